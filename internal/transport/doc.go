// Package transport connects the notifier to a messaging service.
//
// # Contract
//
// Transport has three operations: list conversation members in transport
// order, create a conversation returning a ConversationRef, and send an
// activity into a referenced conversation. Proactive delivery is always the
// two explicit steps CreateConversation then SendActivity.
//
// # Implementations
//
//   - BotFrameworkClient: the bot connector REST API (/v3/conversations...).
//     Bot tokens come from the client-credentials grant and are reused until
//     they expire.
//   - MatrixTransport: the same contract over a Matrix homeserver. Rooms are
//     conversations, joined members (minus the bot) are members sorted by user
//     id, and messages are m.room.message events. Creating a one-member
//     conversation reuses the direct room already shared with that user.
//
// Bot Framework pushes inbound activities to the HTTP endpoint. Matrix has
// no push, so MatrixTransport.Listen syncs with the homeserver and hands each
// inbound activity to a callback.
//
// Failed requests match ErrRequestFailed; cancellation surfaces the context error.
package transport
