// Package conversation resolves a user's existing conversation with the bot.
//
// Resolution takes three steps against external services:
//
//  1. acquire an application token for the user's tenant
//  2. find the user's installation of the bot app (first record wins)
//  3. read the chat bound to that installation
//
// When step 2 finds nothing the user simply does not have the app; the
// Resolver reports Installed == false and never performs step 3.
//
// MatrixResolver has no directory to ask: the room the bot shares with only
// that user stands in for the installation.
package conversation
