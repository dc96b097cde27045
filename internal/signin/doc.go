// Package signin implements the per-conversation single-sign-on flow.
//
// # States
//
//	unauthenticated --message--> challenged --verify-state(token)--> authenticated
//
// Every message in a conversation without a delegated token produces exactly
// one sign-in card and (re)enters challenged. A verify-state or token-exchange
// event moves challenged to authenticated only when its payload carries a
// non-empty token; null, malformed, or token-less payloads are ignored and
// nothing is sent. A token arriving for a conversation that never asked for
// sign-in is ignored as well. There is no transition out of authenticated.
//
// # Explicit State
//
// The Machine never looks state up implicitly. Callers Load the state for the
// conversation, feed it to OnMessage / OnVerifyState / OnTokenExchange, act on
// the Result (send the challenge), and Save the Result. Save skips the write
// when the context is already done.
package signin
