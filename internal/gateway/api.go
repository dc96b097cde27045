// ABOUTME: HTTP handlers for the messaging endpoint and the notification API
// ABOUTME: Maps notifier outcomes and errors onto status codes with JSON bodies

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-notifier/internal/notify"
	"github.com/2389/coven-notifier/internal/store"
	"github.com/2389/coven-notifier/internal/transport"
)

// PostMessageRequest is the body of POST /api/postmessage.
type PostMessageRequest struct {
	ID       string `json:"id"`       // user principal name or object id
	TenantID string `json:"tenantId"` // tenant the user belongs to
	Message  string `json:"message,omitempty"`
}

// PostMessageResponse is the body of a POST /api/postmessage answer.
type PostMessageResponse struct {
	Outcome        string `json:"outcome"`
	ConversationID string `json:"conversationId,omitempty"`
	ActivityID     string `json:"activityId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// NotificationJSON is one ledger entry in GET /api/notifications.
type NotificationJSON struct {
	ID             string    `json:"id"`
	Target         string    `json:"target"`
	TenantID       string    `json:"tenantId"`
	Outcome        string    `json:"outcome"`
	ConversationID string    `json:"conversationId,omitempty"`
	ActivityID     string    `json:"activityId,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ListNotificationsResponse is the body of GET /api/notifications.
type ListNotificationsResponse struct {
	Notifications []NotificationJSON `json:"notifications"`
}

// handleMessages accepts an inbound activity from the bot service. Invokes
// are answered with the InvokeResponse status and its body alone; everything
// else with an empty 200.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		g.sendJSONError(w, http.StatusBadRequest, "content type must be application/json")
		return
	}

	var activity transport.Activity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActivityBytes)).Decode(&activity); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if activity.Type == "" {
		g.sendJSONError(w, http.StatusBadRequest, "activity type is required")
		return
	}

	resp := g.bot.HandleActivity(r.Context(), &activity)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}
	g.writeJSON(w, resp.Status, resp.Body)
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// handlePostMessage sends a proactive notification.
//
// 200 delivered, 412 the target has no installation, 400 for a bad body,
// 502 for identity, directory, or transport failures, 504 when the request
// was canceled or timed out.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActivityBytes)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.TenantID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "id and tenantId are required")
		return
	}

	res, err := g.notifier.SendProactiveNotification(r.Context(), req.ID, req.TenantID, req.Message)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		g.logger.Error("postmessage failed", "target", req.ID, "tenant_id", req.TenantID, "error", err)
		g.sendJSONError(w, status, "notification failed: "+err.Error())
		return
	}

	if res.Outcome == notify.OutcomeNotInstalled {
		g.writeJSON(w, http.StatusPreconditionFailed, PostMessageResponse{
			Outcome: string(res.Outcome),
			Error:   fmt.Sprintf("%s doesn't have the app installed", req.ID),
		})
		return
	}

	g.writeJSON(w, http.StatusOK, PostMessageResponse{
		Outcome:        string(res.Outcome),
		ConversationID: res.ConversationID,
		ActivityID:     res.ActivityID,
	})
}

// handleInstall is the placeholder for installing the app for a user.
func (g *Gateway) handleInstall(w http.ResponseWriter, r *http.Request) {
	g.sendJSONError(w, http.StatusNotImplemented, "app installation is not yet supported")
}

// handleListNotifications returns the most recent ledger entries.
func (g *Gateway) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := g.store.ListNotifications(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list notifications", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := ListNotificationsResponse{Notifications: make([]NotificationJSON, 0, len(records))}
	for _, rec := range records {
		out.Notifications = append(out.Notifications, toNotificationJSON(rec))
	}
	g.writeJSON(w, http.StatusOK, out)
}

func toNotificationJSON(rec *store.NotificationRecord) NotificationJSON {
	return NotificationJSON{
		ID:             rec.ID,
		Target:         rec.Target,
		TenantID:       rec.TenantID,
		Outcome:        string(rec.Outcome),
		ConversationID: rec.ConversationID,
		ActivityID:     rec.ActivityID,
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
