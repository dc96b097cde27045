// Package notify pushes a message into a user's existing conversation with
// the bot without the user having written first.
//
// A notification runs: resolve the installed-app conversation, list its
// members, create a 1:1 conversation with exactly the first member, and send
// one activity. A user without the app installed ends as OutcomeNotInstalled
// and nothing is sent. There are no retries; every attempt is written to the
// notification ledger when one is configured.
//
// With markdown rendering on, the message is converted to HTML and reduced
// to the elements chat clients display; raw HTML in the input never survives.
package notify
