// ABOUTME: Activity and conversation types exchanged with the messaging transport
// ABOUTME: JSON shapes follow the bot connector schema

package transport

import "encoding/json"

// Activity types
const (
	ActivityMessage            = "message"
	ActivityInvoke             = "invoke"
	ActivityConversationUpdate = "conversationUpdate"
	ActivityTyping             = "typing"
	ActivityInvokeResponse     = "invokeResponse"
)

// Invoke names handled by the bot
const (
	InvokeSignInVerifyState   = "signin/verifyState"
	InvokeSignInTokenExchange = "signin/tokenExchange"
)

// Text formats
const (
	TextFormatPlain    = "plain"
	TextFormatMarkdown = "markdown"
	TextFormatXML      = "xml"
)

// ContentTypeOAuthCard is the attachment content type of a sign-in card.
const ContentTypeOAuthCard = "application/vnd.microsoft.card.oauth"

// Account identifies a user or bot on the transport.
type Account struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationAccount identifies a conversation on the transport.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// Attachment is a rich content item attached to an activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content,omitempty"`
	Name        string `json:"name,omitempty"`
}

// ChannelData carries channel-specific fields; only the tenant is read.
type ChannelData struct {
	Tenant *struct {
		ID string `json:"id"`
	} `json:"tenant,omitempty"`
}

// Activity is a single inbound or outbound transport event.
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Name         string              `json:"name,omitempty"`
	Timestamp    string              `json:"timestamp,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         Account             `json:"from"`
	Conversation ConversationAccount `json:"conversation"`
	Recipient    Account             `json:"recipient"`
	Text         string              `json:"text,omitempty"`
	TextFormat   string              `json:"textFormat,omitempty"`
	Summary      string              `json:"summary,omitempty"`
	Locale       string              `json:"locale,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	MembersAdded []Account           `json:"membersAdded,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	ChannelData  *ChannelData        `json:"channelData,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"`
}

// TenantID returns the tenant the activity belongs to, preferring the conversation's.
func (a *Activity) TenantID() string {
	if a.Conversation.TenantID != "" {
		return a.Conversation.TenantID
	}
	if a.ChannelData != nil && a.ChannelData.Tenant != nil {
		return a.ChannelData.Tenant.ID
	}
	return ""
}

// Ref returns a reference for replying into the activity's conversation.
func (a *Activity) Ref() ConversationRef {
	return ConversationRef{
		ID:         a.Conversation.ID,
		ServiceURL: a.ServiceURL,
		TenantID:   a.TenantID(),
		ActivityID: a.ID,
	}
}

// NewMessage builds an outbound message activity with plain text.
func NewMessage(text string) *Activity {
	return &Activity{Type: ActivityMessage, Text: text}
}

// ReplyTo builds a message answering the inbound activity.
func ReplyTo(in *Activity, text string) *Activity {
	return &Activity{
		Type:         ActivityMessage,
		Text:         text,
		From:         in.Recipient,
		Recipient:    in.From,
		Conversation: in.Conversation,
		ReplyToID:    in.ID,
	}
}

// ConversationParameters describes a conversation to create.
type ConversationParameters struct {
	IsGroup     bool      `json:"isGroup"`
	Bot         Account   `json:"bot"`
	Members     []Account `json:"members"`
	TenantID    string    `json:"tenantId,omitempty"`
	TopicName   string    `json:"topicName,omitempty"`
	Activity    *Activity `json:"activity,omitempty"`
	ChannelData any       `json:"channelData,omitempty"`
}

// ConversationRef is a handle for sending into an established conversation.
type ConversationRef struct {
	ID         string
	ServiceURL string // empty uses the transport's default
	TenantID   string
	ActivityID string // activity that created or last addressed the conversation
}

// OAuthCard is the content of a sign-in card attachment.
type OAuthCard struct {
	Text                  string                 `json:"text,omitempty"`
	ConnectionName        string                 `json:"connectionName"`
	TokenExchangeResource *TokenExchangeResource `json:"tokenExchangeResource,omitempty"`
	Buttons               []CardAction           `json:"buttons,omitempty"`
}

// TokenExchangeResource identifies a single-sign-on exchange request.
type TokenExchangeResource struct {
	ID  string `json:"id"`
	URI string `json:"uri,omitempty"`
}

// CardAction is a button on a card.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value,omitempty"`
}

// VerifyStateValue is the payload of a sign-in verify-state or token-exchange invoke.
type VerifyStateValue struct {
	ID             string  `json:"id"`
	Token          *string `json:"token"`
	ConnectionName string  `json:"connectionName"`
	State          string  `json:"state,omitempty"`
}

// InvokeResponse is the synchronous answer to an invoke activity.
type InvokeResponse struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}
