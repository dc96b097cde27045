// Package bot handles inbound activities from the messaging transport.
//
// Messages go through the sign-in state machine first. A conversation
// without a delegated token gets a sign-in card; a signed-in conversation's
// text is parsed as a command by the Router. Sign-in invokes
// (signin/verifyState and signin/tokenExchange) complete the sign-in and
// are answered synchronously with an InvokeResponse. Redelivered activities
// are dropped using the dedupe cache.
package bot
