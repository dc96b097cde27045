// ABOUTME: Matrix sync loop that turns room events into inbound activities
// ABOUTME: Joins rooms on invite and maps text messages and the sign-in command

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ChannelMatrix is the channel id of activities received from Matrix.
const ChannelMatrix = "matrix"

// MatrixSignInCommand completes a sign-in from a Matrix room: the rest of the
// message is taken as the delegated token.
const MatrixSignInCommand = "signin"

const joinTimeout = 30 * time.Second

// ActivityHandler receives inbound activities in the order they were synced.
type ActivityHandler func(ctx context.Context, a *Activity)

// Listen syncs with the homeserver and hands every inbound activity to
// handle until ctx is canceled. Messages sent before Listen started are
// skipped. Activities are handled on the sync goroutine so a room's turns
// run one at a time.
func (m *MatrixTransport) Listen(ctx context.Context, handle ActivityHandler) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}

	started := time.Now().UnixMilli()
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if evt.Timestamp < started {
			return
		}
		if a := m.messageActivity(evt); a != nil {
			handle(ctx, a)
		}
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if a := m.inviteActivity(ctx, evt); a != nil {
			handle(ctx, a)
		}
	})

	m.logger.Info("starting matrix sync", "user_id", m.self.String())

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- m.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		m.logger.Info("stopping matrix sync")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// messageActivity maps a text message from someone other than the bot.
// Returns nil for anything else.
func (m *MatrixTransport) messageActivity(evt *event.Event) *Activity {
	if evt.Sender == m.self {
		return nil
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return nil
	}
	body := strings.TrimSpace(content.Body)
	if body == "" {
		return nil
	}

	a := m.inbound(evt)
	a.ID = evt.ID.String()

	if token, ok := signInToken(body); ok {
		value, err := json.Marshal(VerifyStateValue{Token: &token})
		if err != nil {
			return nil
		}
		a.Type = ActivityInvoke
		a.Name = InvokeSignInVerifyState
		a.Value = value
		m.logger.Debug("received sign-in", "room", evt.RoomID.String(), "sender", evt.Sender.String())
		return a
	}

	a.Type = ActivityMessage
	a.Text = body
	m.logger.Debug("received message", "room", evt.RoomID.String(), "sender", evt.Sender.String())
	return a
}

// inviteActivity joins a room the bot was invited to and reports the bot as
// added to it.
func (m *MatrixTransport) inviteActivity(ctx context.Context, evt *event.Event) *Activity {
	if evt.GetStateKey() != m.self.String() {
		return nil
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return nil
	}

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	if _, err := m.client.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		m.logger.Error("failed to join room", "room", evt.RoomID.String(), "inviter", evt.Sender.String(), "error", err)
		return nil
	}
	m.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())

	a := m.inbound(evt)
	a.Type = ActivityConversationUpdate
	a.MembersAdded = []Account{{ID: m.self.String()}}
	return a
}

func (m *MatrixTransport) inbound(evt *event.Event) *Activity {
	return &Activity{
		Timestamp: time.UnixMilli(evt.Timestamp).UTC().Format(time.RFC3339Nano),
		ChannelID: ChannelMatrix,
		From:      Account{ID: evt.Sender.String()},
		Recipient: Account{ID: m.self.String()},
		Conversation: ConversationAccount{
			ID:       evt.RoomID.String(),
			TenantID: serverName(m.self),
		},
	}
}

func signInToken(body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) != 2 || !strings.EqualFold(fields[0], MatrixSignInCommand) {
		return "", false
	}
	return fields[1], true
}

// serverName is the homeserver part of a user id; Matrix has no tenants so
// it stands in for one.
func serverName(userID id.UserID) string {
	_, server, err := userID.Parse()
	if err != nil {
		return ""
	}
	return server
}
