// ABOUTME: Matrix homeserver implementation of Transport
// ABOUTME: Maps conversations to rooms and activities to m.room.message events

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig configures the Matrix transport.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// MatrixTransport delivers activities through a Matrix homeserver.
// Conversation ids are room ids and accounts are Matrix user ids.
type MatrixTransport struct {
	client *mautrix.Client
	self   id.UserID
	logger *slog.Logger
}

// NewMatrixTransport creates a Matrix transport logged in with an access token.
func NewMatrixTransport(cfg MatrixConfig, logger *slog.Logger) (*MatrixTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &MatrixTransport{
		client: client,
		self:   id.UserID(cfg.UserID),
		logger: logger.With("component", "matrix"),
	}, nil
}

// GetConversationMembers lists the room's joined members other than the bot,
// ordered by user id.
func (m *MatrixTransport) GetConversationMembers(ctx context.Context, conversationID string) ([]Account, error) {
	resp, err := m.client.JoinedMembers(ctx, id.RoomID(conversationID))
	if err != nil {
		return nil, m.wrap(ctx, "get_members", err)
	}

	userIDs := make([]string, 0, len(resp.Joined))
	for userID := range resp.Joined {
		if userID == m.self {
			continue
		}
		userIDs = append(userIDs, string(userID))
	}
	sort.Strings(userIDs)

	members := make([]Account, len(userIDs))
	for i, uid := range userIDs {
		members[i] = Account{ID: uid}
	}
	return members, nil
}

// FindDirectRoom returns the first joined room, by room id, whose only other
// joined member is userID.
func (m *MatrixTransport) FindDirectRoom(ctx context.Context, userID string) (string, bool, error) {
	resp, err := m.client.JoinedRooms(ctx)
	if err != nil {
		return "", false, m.wrap(ctx, "joined_rooms", err)
	}

	rooms := make([]string, len(resp.JoinedRooms))
	for i, roomID := range resp.JoinedRooms {
		rooms[i] = roomID.String()
	}
	sort.Strings(rooms)

	for _, roomID := range rooms {
		members, err := m.GetConversationMembers(ctx, roomID)
		if err != nil {
			return "", false, err
		}
		if len(members) == 1 && members[0].ID == userID {
			return roomID, true, nil
		}
	}
	return "", false, nil
}

// CreateConversation reopens the direct room shared with a single member, or
// creates a room and invites the members.
func (m *MatrixTransport) CreateConversation(ctx context.Context, params ConversationParameters) (ConversationRef, error) {
	if len(params.Members) == 0 {
		return ConversationRef{}, fmt.Errorf("%w: create_conversation: no members", ErrRequestFailed)
	}

	if !params.IsGroup && len(params.Members) == 1 {
		roomID, found, err := m.FindDirectRoom(ctx, params.Members[0].ID)
		if err != nil {
			return ConversationRef{}, err
		}
		if found {
			return ConversationRef{ID: roomID, TenantID: params.TenantID}, nil
		}
	}

	invite := make([]id.UserID, len(params.Members))
	for i, member := range params.Members {
		invite[i] = id.UserID(member.ID)
	}

	req := &mautrix.ReqCreateRoom{
		Invite:   invite,
		IsDirect: !params.IsGroup,
		Preset:   "trusted_private_chat",
		Name:     params.TopicName,
	}
	resp, err := m.client.CreateRoom(ctx, req)
	if err != nil {
		return ConversationRef{}, m.wrap(ctx, "create_conversation", err)
	}

	m.logger.Debug("created room", "room_id", resp.RoomID.String(), "members", len(invite))
	return ConversationRef{ID: resp.RoomID.String(), TenantID: params.TenantID}, nil
}

// SendActivity sends the activity as a room message. HTML text is sent as a
// formatted body with the summary as its plain fallback.
func (m *MatrixTransport) SendActivity(ctx context.Context, ref ConversationRef, activity *Activity) (string, error) {
	if activity.Type != "" && activity.Type != ActivityMessage {
		// typing indicators and other non-message activities have no room event
		return "", nil
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    activity.Text,
	}
	if activity.TextFormat == TextFormatXML {
		content.Format = event.FormatHTML
		content.FormattedBody = activity.Text
		content.Body = activity.Summary
		if content.Body == "" {
			content.Body = activity.Text
		}
	}
	if content.Body == "" {
		content.Body = attachmentFallback(activity.Attachments)
	}

	resp, err := m.client.SendMessageEvent(ctx, id.RoomID(ref.ID), event.EventMessage, content)
	if err != nil {
		return "", m.wrap(ctx, "send_activity", err)
	}
	return resp.EventID.String(), nil
}

func (m *MatrixTransport) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("transport: %s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", ErrRequestFailed, op, err)
}

// attachmentFallback renders cards as text for clients without card support.
// A sign-in card is answered with the sign-in command handled by Listen.
func attachmentFallback(attachments []Attachment) string {
	var parts []string
	for _, a := range attachments {
		if card, ok := a.Content.(*OAuthCard); ok {
			text := card.Text
			if text == "" {
				text = "Sign-in required."
			}
			parts = append(parts, text+"\nReply with `"+MatrixSignInCommand+" <token>` to finish signing in.")
		}
	}
	return strings.Join(parts, "\n")
}
