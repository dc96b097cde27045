// ABOUTME: Directory (graph) REST client for installed-app and user lookups
// ABOUTME: Resolves whether the bot app is installed for a user and the chat bound to it

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrLookupFailure is matched by every failed directory request.
var ErrLookupFailure = errors.New("directory: lookup failed")

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// APIError is a non-success response from the directory service.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("directory: %s: status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("directory: %s: status %d", e.Op, e.StatusCode)
}

// Is makes every APIError match ErrLookupFailure.
func (e *APIError) Is(target error) bool { return target == ErrLookupFailure }

// LatencyRecorder observes how long each directory request took.
type LatencyRecorder interface {
	RecordDirectoryLatency(op string, d time.Duration)
}

// User is the signed-in user's profile as returned by /me.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Organization is a tenant as returned by /organization.
type Organization struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type idResult struct {
	ID string `json:"id"`
}

type listResult[T any] struct {
	Value []T `json:"value"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client queries the directory service with caller-supplied bearer tokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
	recorder   LatencyRecorder
	logger     *slog.Logger
}

// NewClient creates a directory client rooted at baseURL (e.g. https://graph.microsoft.com/v1.0).
func NewClient(baseURL string, httpClient *http.Client, recorder LatencyRecorder, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		recorder:   recorder,
		logger:     logger.With("component", "directory"),
	}
}

// FindInstalledApp returns the id of the first installation of the app (by
// catalog external id) for the user. found is false when the user has no
// installation, which is not an error.
func (c *Client) FindInstalledApp(ctx context.Context, user, appExternalID, appToken string) (installationID string, found bool, err error) {
	filter := fmt.Sprintf("teamsApp/externalId eq '%s'", strings.ReplaceAll(appExternalID, "'", "''"))
	query := "$expand=teamsApp&$filter=" + queryEscape(filter)
	endpoint := fmt.Sprintf("%s/users/%s/teamwork/installedApps?%s", c.baseURL, url.PathEscape(user), query)

	var result listResult[idResult]
	if err := c.get(ctx, "find_installed_app", endpoint, appToken, &result); err != nil {
		return "", false, err
	}
	if len(result.Value) == 0 {
		c.logger.Debug("app not installed for user", "user", user)
		return "", false, nil
	}
	if result.Value[0].ID == "" {
		return "", false, fmt.Errorf("%w: installation record without id", ErrLookupFailure)
	}
	return result.Value[0].ID, true, nil
}

// GetInstalledAppConversation returns the chat id bound to an app installation.
func (c *Client) GetInstalledAppConversation(ctx context.Context, user, installationID, appToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/users/%s/teamwork/installedApps/%s/chat",
		c.baseURL, url.PathEscape(user), url.PathEscape(installationID))

	var chat idResult
	if err := c.get(ctx, "get_installed_app_chat", endpoint, appToken, &chat); err != nil {
		return "", err
	}
	if chat.ID == "" {
		return "", fmt.Errorf("%w: chat response without id", ErrLookupFailure)
	}
	return chat.ID, nil
}

// GetMe reads the profile of the user the delegated token was issued to.
func (c *Client) GetMe(ctx context.Context, token string) (*User, error) {
	var u User
	if err := c.get(ctx, "get_me", c.baseURL+"/me", token, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrganization lists the organizations visible to the token.
func (c *Client) GetOrganization(ctx context.Context, token string) ([]Organization, error) {
	var result listResult[Organization]
	if err := c.get(ctx, "get_organization", c.baseURL+"/organization", token, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

func (c *Client) get(ctx context.Context, op, endpoint, token string, out any) error {
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordDirectoryLatency(op, time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: building request: %v", ErrLookupFailure, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("directory: %s: %w", op, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v", ErrLookupFailure, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var ge graphError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(body, &ge) == nil {
			apiErr.Code = ge.Error.Code
			apiErr.Message = ge.Error.Message
		}
		c.logger.Warn("directory request failed", "op", op, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %v", ErrLookupFailure, op, err)
	}
	return nil
}

// queryEscape encodes a query value with %20 for spaces, which OData filters require.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
