// Package directory is a client for the directory (graph) REST service.
//
// It answers two questions for proactive delivery: is the bot app installed
// for a user, and which chat is bound to that installation. Every failed
// request matches ErrLookupFailure; an empty installation list is reported
// through the found return value instead.
package directory
