// ABOUTME: Client-side subcommands that talk to a running notifier or write its config
// ABOUTME: Implements init, health, notify and notifications

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/2389/coven-notifier/internal/config"
	"github.com/2389/coven-notifier/internal/gateway"
	"github.com/2389/coven-notifier/internal/notify"
)

const defaultConfig = `# coven-notifier configuration
# Generated by coven-notifier init
# ${VAR} references are expanded from the environment when the file is loaded.

server:
  http_addr: "localhost:3978"

# Tailscale exposes the messaging endpoint publicly through a funnel.
tailscale:
  enabled: false
  hostname: "coven-notifier"
  ephemeral: false
  funnel: false

# Sign-in state and the notification ledger. Empty or ":memory:" keeps
# everything in process memory.
database:
  path: ":memory:"

app:
  client_id: "${COVEN_NOTIFIER_CLIENT_ID}"
  client_secret: "${COVEN_NOTIFIER_CLIENT_SECRET}"
  tenant_id: ""
  teams_app_id: "${COVEN_NOTIFIER_TEAMS_APP_ID}"
  bot_name: "Notifier"

identity:
  cache_app_tokens: false
  token_timeout: "30s"

transport:
  kind: "botframework"
  service_url: "https://smba.trafficmanager.net/teams/"

signin:
  connection_name: "AAD"

notify:
  default_message: "You have a new notification."
  render_markdown: false

api:
  # Set a secret of at least 32 bytes to require bearer tokens on /api.
  jwt_secret: ""
  rate_limit_per_minute: 60

dedupe:
  ttl: "5m"
  max_entries: 10000

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`

const httpTimeout = 30 * time.Second

func newInitCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := writeDefaultConfig(*configPath, force); err != nil {
				return err
			}
			green := color.New(color.FgGreen)
			green.Printf("  ✓ Created config: %s\n", *configPath)
			fmt.Println("\nFill in the app credentials, then start the server:")
			fmt.Println("  coven-notifier serve")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking config file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func newHealthCmd(configPath *string) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check notifier health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := resolveServerURL(serverURL, *configPath)
			if err != nil {
				return err
			}
			if err := checkHealth(cmd.Context(), base); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server base URL (default from config server.http_addr)")
	return cmd
}

func checkHealth(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func newNotifyCmd(configPath *string) *cobra.Command {
	var (
		serverURL string
		tenantID  string
		message   string
		token     string
	)

	cmd := &cobra.Command{
		Use:   "notify <principal>",
		Short: "Send a proactive notification through a running notifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveServerURL(serverURL, *configPath)
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("COVEN_NOTIFIER_TOKEN")
			}
			req := gateway.PostMessageRequest{ID: args[0], TenantID: tenantID, Message: message}
			resp, err := postMessage(cmd.Context(), base, token, req)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), args[0], resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server base URL (default from config server.http_addr)")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant the user belongs to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text (server default when empty)")
	cmd.Flags().StringVar(&token, "token", "", "API bearer token (env COVEN_NOTIFIER_TOKEN)")
	return cmd
}

// postMessage calls POST /api/postmessage. A not-installed answer is a
// result, not an error.
func postMessage(ctx context.Context, base, token string, msg gateway.PostMessageRequest) (*gateway.PostMessageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/postmessage", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPreconditionFailed:
		var out gateway.PostMessageResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		return &out, nil
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("notify failed (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("notify failed: status %d", resp.StatusCode)
	}
}

func printResult(w io.Writer, principal string, resp *gateway.PostMessageResponse) {
	if resp.Outcome == string(notify.OutcomeDelivered) {
		fmt.Fprintf(w, "%s delivered to %s (conversation %s)\n",
			color.GreenString("✓"), principal, resp.ConversationID)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", color.YellowString("!"), principal, resp.Outcome)
}

func newNotificationsCmd(configPath *string) *cobra.Command {
	var (
		serverURL string
		token     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List recent notification attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := resolveServerURL(serverURL, *configPath)
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("COVEN_NOTIFIER_TOKEN")
			}
			list, err := listNotifications(cmd.Context(), base, token, limit)
			if err != nil {
				return err
			}
			renderNotifications(cmd.OutOrStdout(), list.Notifications)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server base URL (default from config server.http_addr)")
	cmd.Flags().StringVar(&token, "token", "", "API bearer token (env COVEN_NOTIFIER_TOKEN)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	return cmd
}

func listNotifications(ctx context.Context, base, token string, limit int) (*gateway.ListNotificationsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	u := base + "/api/notifications?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing notifications: status %d", resp.StatusCode)
	}

	var out gateway.ListNotificationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func renderNotifications(w io.Writer, records []gateway.NotificationJSON) {
	if len(records) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No notifications yet."))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TIME", "TARGET", "TENANT", "OUTCOME", "CONVERSATION"})
	for _, rec := range records {
		outcome := rec.Outcome
		switch outcome {
		case string(notify.OutcomeDelivered):
			outcome = text.FgGreen.Sprint(outcome)
		case string(notify.OutcomeNotInstalled):
			outcome = text.FgYellow.Sprint(outcome)
		default:
			outcome = text.FgRed.Sprint(outcome)
		}
		t.AppendRow(table.Row{
			rec.CreatedAt.Local().Format(time.DateTime),
			rec.Target,
			rec.TenantID,
			outcome,
			rec.ConversationID,
		})
	}
	t.Render()
}

// resolveServerURL prefers an explicit URL and falls back to the configured
// listen address.
func resolveServerURL(explicit, configPath string) (string, error) {
	if explicit != "" {
		return strings.TrimRight(explicit, "/"), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return "", fmt.Errorf("server.http_addr is not set; pass --url")
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}
