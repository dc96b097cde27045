// ABOUTME: Bot connector REST client implementing Transport
// ABOUTME: Authenticates with a client-credentials bot token reused until expiry

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// BotFrameworkConfig configures the bot connector client.
type BotFrameworkConfig struct {
	AppID       string
	AppPassword string
	TokenURL    string // bot token endpoint
	Scope       string // bot connector scope
	ServiceURL  string // default service URL for proactive sends
	HTTPClient  *http.Client
}

// BotFrameworkClient talks to the bot connector service.
type BotFrameworkClient struct {
	serviceURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBotFrameworkClient creates a connector client. Bot tokens are fetched with
// the client-credentials grant on first use and reused until they expire.
func NewBotFrameworkClient(cfg BotFrameworkConfig, logger *slog.Logger) *BotFrameworkClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{cfg.Scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	ts := oauth2.ReuseTokenSource(nil, cc.TokenSource(tokenCtx))

	return &BotFrameworkClient{
		serviceURL: cfg.ServiceURL,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: base.Transport},
			Timeout:   base.Timeout,
		},
		logger: logger.With("component", "botframework"),
	}
}

// BotAccountID returns the connector account id of a bot registered under appID.
func BotAccountID(appID string) string {
	return "28:" + appID
}

type conversationResource struct {
	ID         string `json:"id"`
	ActivityID string `json:"activityId"`
	ServiceURL string `json:"serviceUrl"`
}

type resourceResponse struct {
	ID string `json:"id"`
}

// GetConversationMembers lists the members of a conversation.
func (c *BotFrameworkClient) GetConversationMembers(ctx context.Context, conversationID string) ([]Account, error) {
	endpoint := fmt.Sprintf("%s/v3/conversations/%s/members", c.base(""), url.PathEscape(conversationID))

	var members []Account
	if err := c.do(ctx, "get_members", http.MethodGet, endpoint, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// CreateConversation creates a conversation and returns a handle to it.
func (c *BotFrameworkClient) CreateConversation(ctx context.Context, params ConversationParameters) (ConversationRef, error) {
	endpoint := c.base("") + "/v3/conversations"

	var res conversationResource
	if err := c.do(ctx, "create_conversation", http.MethodPost, endpoint, params, &res); err != nil {
		return ConversationRef{}, err
	}
	if res.ID == "" {
		return ConversationRef{}, fmt.Errorf("%w: create_conversation: response without id", ErrRequestFailed)
	}

	serviceURL := res.ServiceURL
	if serviceURL == "" {
		serviceURL = c.serviceURL
	}
	return ConversationRef{
		ID:         res.ID,
		ServiceURL: serviceURL,
		TenantID:   params.TenantID,
		ActivityID: res.ActivityID,
	}, nil
}

// SendActivity posts an activity to the conversation, threading it under
// activity.ReplyToID when set.
func (c *BotFrameworkClient) SendActivity(ctx context.Context, ref ConversationRef, activity *Activity) (string, error) {
	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities", c.base(ref.ServiceURL), url.PathEscape(ref.ID))
	if activity.ReplyToID != "" {
		endpoint += "/" + url.PathEscape(activity.ReplyToID)
	}

	out := *activity
	if out.Conversation.ID == "" {
		out.Conversation = ConversationAccount{ID: ref.ID, TenantID: ref.TenantID}
	}

	var res resourceResponse
	if err := c.do(ctx, "send_activity", http.MethodPost, endpoint, &out, &res); err != nil {
		return "", err
	}
	c.logger.Debug("sent activity", "type", out.Type, "conversation_id", ref.ID, "activity_id", res.ID)
	return res.ID, nil
}

func (c *BotFrameworkClient) base(serviceURL string) string {
	if serviceURL == "" {
		serviceURL = c.serviceURL
	}
	return strings.TrimRight(serviceURL, "/")
}

func (c *BotFrameworkClient) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %s: encoding request: %v", ErrRequestFailed, op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %s: building request: %v", ErrRequestFailed, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transport: %s: %w", op, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v", ErrRequestFailed, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: reading response: %v", ErrRequestFailed, op, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %v", ErrRequestFailed, op, err)
	}
	return nil
}
