// ABOUTME: Fake identity provider, directory, and bot connector for gateway tests
// ABOUTME: Serves all three from one httptest server and records what it receives

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-notifier/internal/config"
	"github.com/2389/coven-notifier/internal/transport"
)

type fakeCloud struct {
	mu           sync.Mutex
	installed    map[string]string // user -> installation id
	denied       map[string]bool   // users whose lookup is forbidden
	memberCalls  int
	created      []transport.ConversationParameters
	activities   []transport.Activity
	nextActivity int
}

func newFakeCloud(t *testing.T) (*fakeCloud, *httptest.Server) {
	t.Helper()
	fc := &fakeCloud{
		installed: map[string]string{"alice@contoso.com": "inst-alice"},
		denied:    map[string]bool{"denied@contoso.com": true},
	}
	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, "/oauth2/v2.0/token"):
		_, _ = io.WriteString(w, `{"access_token":"app-token","token_type":"Bearer","expires_in":3600}`)

	case strings.HasPrefix(path, "/v1.0/users/"):
		rest := strings.TrimPrefix(path, "/v1.0/users/")
		user, tail, _ := strings.Cut(rest, "/")
		if fc.denied[user] {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":"Forbidden","message":"denied"}}`)
			return
		}
		inst, ok := fc.installed[user]
		switch {
		case tail == "teamwork/installedApps" && ok:
			_, _ = io.WriteString(w, `{"value":[{"id":"`+inst+`"}]}`)
		case tail == "teamwork/installedApps":
			_, _ = io.WriteString(w, `{"value":[]}`)
		case strings.HasSuffix(tail, "/chat"):
			_, _ = io.WriteString(w, `{"id":"19:chat-`+strings.Split(user, "@")[0]+`"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}

	case strings.HasSuffix(path, "/members"):
		fc.memberCalls++
		_, _ = io.WriteString(w, `[{"id":"29:first"},{"id":"29:second"}]`)

	case path == "/v3/conversations" && r.Method == http.MethodPost:
		var params transport.ConversationParameters
		_ = json.NewDecoder(r.Body).Decode(&params)
		fc.created = append(fc.created, params)
		_, _ = io.WriteString(w, `{"id":"a:1on1"}`)

	case strings.HasPrefix(path, "/v3/conversations/") && strings.Contains(path, "/activities"):
		var a transport.Activity
		_ = json.NewDecoder(r.Body).Decode(&a)
		fc.activities = append(fc.activities, a)
		fc.nextActivity++
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("out-%d", fc.nextActivity)})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fc *fakeCloud) conversations() []transport.ConversationParameters {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]transport.ConversationParameters(nil), fc.created...)
}

func (fc *fakeCloud) members() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.memberCalls
}

func (fc *fakeCloud) sent() []transport.Activity {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]transport.Activity(nil), fc.activities...)
}

// testConfig returns a complete config pointing every upstream at cloudURL.
func testConfig(cloudURL string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		App: config.AppConfig{
			ClientID:     "app-id",
			ClientSecret: "app-secret",
			TeamsAppID:   "teams-app",
			BotName:      "Notifier",
		},
		Identity: config.IdentityConfig{
			AuthorityURL:    cloudURL,
			DirectoryScope:  config.DefaultDirectoryScope,
			DelegatedScopes: []string{"User.Read"},
		},
		Directory: config.DirectoryConfig{BaseURL: cloudURL + "/v1.0"},
		Transport: config.TransportConfig{
			Kind:       config.TransportBotFramework,
			ServiceURL: cloudURL,
			TokenURL:   cloudURL + "/botframework.com/oauth2/v2.0/token",
			Scope:      config.DefaultBotScope,
		},
		SignIn:  config.SignInConfig{ConnectionName: "AAD"},
		Notify:  config.NotifyConfig{DefaultMessage: "You have a new notification."},
		API:     config.APIConfig{RateLimitPerMinute: 600, RateLimitBurst: 600},
		Dedupe:  config.DedupeConfig{TTL: time.Minute, MaxEntries: 100},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	t.Setenv("COVEN_NOTIFIER_DB_PATH", "")
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}
