// ABOUTME: Tests for the gateway wired to the Matrix transport
// ABOUTME: A fake homeserver serves rooms, members, sends, and one sync batch

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-notifier/internal/config"
)

type fakeHomeserver struct {
	mu    sync.Mutex
	sent  []map[string]any
	syncs int
	batch string
}

func newFakeHomeserver(t *testing.T) (*fakeHomeserver, *httptest.Server) {
	t.Helper()
	hs := &fakeHomeserver{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path

		hs.mu.Lock()
		defer hs.mu.Unlock()

		switch {
		case strings.HasSuffix(path, "/joined_rooms"):
			_, _ = w.Write([]byte(`{"joined_rooms":["!dm-zed:example.com"]}`))
		case strings.HasSuffix(path, "/joined_members"):
			_, _ = w.Write([]byte(`{"joined":{"@notifier:example.com":{},"@zed:example.com":{}}}`))
		case strings.Contains(path, "/send/m.room.message/"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			hs.sent = append(hs.sent, body)
			_, _ = w.Write([]byte(`{"event_id":"$sent"}`))
		case strings.HasSuffix(path, "/filter"):
			_, _ = w.Write([]byte(`{"filter_id":"f1"}`))
		case strings.HasSuffix(path, "/sync"):
			hs.syncs++
			if hs.syncs == 1 && hs.batch != "" {
				_, _ = w.Write([]byte(hs.batch))
				return
			}
			hs.mu.Unlock()
			select {
			case <-r.Context().Done():
			case <-time.After(50 * time.Millisecond):
			}
			hs.mu.Lock()
			_, _ = w.Write([]byte(`{"next_batch":"next"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"unrecognized"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return hs, srv
}

func (hs *fakeHomeserver) bodies() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var out []string
	for _, b := range hs.sent {
		if s, ok := b["body"].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func matrixConfig(cloudURL, homeserverURL string) *config.Config {
	cfg := testConfig(cloudURL)
	cfg.Transport = config.TransportConfig{
		Kind: config.TransportMatrix,
		Matrix: config.MatrixConfig{
			Homeserver:  homeserverURL,
			UserID:      "@notifier:example.com",
			AccessToken: "mx-token",
		},
	}
	return cfg
}

func TestMatrixGateway_PostMessage(t *testing.T) {
	_, cloud := newFakeCloud(t)
	hs, homeserver := newFakeHomeserver(t)
	gw := newTestGateway(t, matrixConfig(cloud.URL, homeserver.URL))
	require.NotNil(t, gw.matrix)

	w := do(t, gw.Handler(), http.MethodPost, "/api/postmessage",
		`{"id":"@zed:example.com","tenantId":"example.com","message":"deploy finished"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PostMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "delivered", resp.Outcome)
	assert.Equal(t, "!dm-zed:example.com", resp.ConversationID)
	assert.Equal(t, "$sent", resp.ActivityID)
	assert.Equal(t, []string{"deploy finished"}, hs.bodies())

	w = do(t, gw.Handler(), http.MethodPost, "/api/postmessage",
		`{"id":"@ada:example.com","tenantId":"example.com"}`, nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = do(t, gw.Handler(), http.MethodPost, "/api/postmessage",
		`{"id":"alice@contoso.com","tenantId":"tenant-1"}`, nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestMatrixGateway_SyncedMessageIsChallenged(t *testing.T) {
	_, cloud := newFakeCloud(t)
	hs, homeserver := newFakeHomeserver(t)
	ts := time.Now().Add(time.Minute).UnixMilli()
	hs.batch = `{"next_batch":"s1","rooms":{"join":{"!dm-zed:example.com":{"timeline":{"events":[
		{"type":"m.room.message","event_id":"$m1","sender":"@zed:example.com","origin_server_ts":` +
		strconv.FormatInt(ts, 10) + `,"content":{"msgtype":"m.text","body":"help"}}
	]}}}}}`

	t.Setenv("COVEN_NOTIFIER_DB_PATH", "")
	gw, err := New(matrixConfig(cloud.URL, homeserver.URL), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, body := range hs.bodies() {
			if strings.Contains(body, "signin <token>") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

