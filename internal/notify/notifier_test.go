// ABOUTME: Tests for proactive notification delivery
// ABOUTME: Uses fake resolver and transport plus the in-memory ledger

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-notifier/internal/conversation"
	"github.com/2389/coven-notifier/internal/directory"
	"github.com/2389/coven-notifier/internal/store"
	"github.com/2389/coven-notifier/internal/transport"
)

type fakeResolver struct {
	res conversation.Resolution
	err error
}

func (f *fakeResolver) ResolveConversation(ctx context.Context, user, tenantID string) (conversation.Resolution, error) {
	return f.res, f.err
}

type fakeTransport struct {
	members    []transport.Account
	membersErr error
	createErr  error
	sendErr    error

	memberCalls []string
	created     []transport.ConversationParameters
	sent        []*transport.Activity
	sentRefs    []transport.ConversationRef
}

func (f *fakeTransport) GetConversationMembers(ctx context.Context, conversationID string) ([]transport.Account, error) {
	f.memberCalls = append(f.memberCalls, conversationID)
	return f.members, f.membersErr
}

func (f *fakeTransport) CreateConversation(ctx context.Context, params transport.ConversationParameters) (transport.ConversationRef, error) {
	f.created = append(f.created, params)
	if f.createErr != nil {
		return transport.ConversationRef{}, f.createErr
	}
	return transport.ConversationRef{ID: "a:1on1", TenantID: params.TenantID}, nil
}

func (f *fakeTransport) SendActivity(ctx context.Context, ref transport.ConversationRef, activity *transport.Activity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.sent = append(f.sent, activity)
	f.sentRefs = append(f.sentRefs, ref)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "activity-1", nil
}

type outcomes struct{ got []string }

func (o *outcomes) RecordNotification(outcome string) { o.got = append(o.got, outcome) }

var installed = conversation.Resolution{ConversationID: "19:chat", InstallationID: "inst-1", Installed: true}

func newTestNotifier(res *fakeResolver, tr *fakeTransport) (*Notifier, *store.MemoryStore, *outcomes) {
	ledger := store.NewMemoryStore()
	rec := &outcomes{}
	n := New(Config{BotID: "28:app", BotName: "Notifier", DefaultMessage: "Hello"}, res, tr, ledger, rec, nil)
	return n, ledger, rec
}

func TestSend_Delivered(t *testing.T) {
	tr := &fakeTransport{members: []transport.Account{{ID: "29:first"}, {ID: "29:second"}}}
	n, ledger, rec := newTestNotifier(&fakeResolver{res: installed}, tr)

	res, err := n.SendProactiveNotification(context.Background(), "alice@contoso.com", "tenant-1", "ping")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.Equal(t, "a:1on1", res.ConversationID)
	assert.Equal(t, "activity-1", res.ActivityID)

	assert.Equal(t, []string{"19:chat"}, tr.memberCalls)
	require.Len(t, tr.created, 1)
	params := tr.created[0]
	assert.False(t, params.IsGroup)
	assert.Equal(t, transport.Account{ID: "28:app", Name: "Notifier"}, params.Bot)
	assert.Equal(t, []transport.Account{{ID: "29:first"}}, params.Members, "only the first member is used")
	assert.Equal(t, "tenant-1", params.TenantID)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, "ping", tr.sent[0].Text)
	assert.Equal(t, "a:1on1", tr.sentRefs[0].ID)

	records, err := ledger.ListNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.OutcomeDelivered, records[0].Outcome)
	assert.Equal(t, "alice@contoso.com", records[0].Target)
	assert.Equal(t, "activity-1", records[0].ActivityID)
	assert.NotEmpty(t, records[0].ID)
	assert.Equal(t, []string{"delivered"}, rec.got)
}

func TestSend_NotInstalledHasNoSideEffects(t *testing.T) {
	tr := &fakeTransport{}
	n, ledger, rec := newTestNotifier(&fakeResolver{}, tr)

	res, err := n.SendProactiveNotification(context.Background(), "bob", "tenant-1", "ping")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotInstalled, res.Outcome)

	assert.Empty(t, tr.memberCalls)
	assert.Empty(t, tr.created)
	assert.Empty(t, tr.sent)

	records, err := ledger.ListNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.OutcomeNotInstalled, records[0].Outcome)
	assert.Equal(t, []string{"not_installed"}, rec.got)
}

func TestSend_DefaultMessage(t *testing.T) {
	tr := &fakeTransport{members: []transport.Account{{ID: "29:first"}}}
	n, _, _ := newTestNotifier(&fakeResolver{res: installed}, tr)

	_, err := n.SendProactiveNotification(context.Background(), "alice", "tenant-1", "")
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "Hello", tr.sent[0].Text)
}

func TestSend_Failures(t *testing.T) {
	boom := &transport.APIError{Op: "x", StatusCode: 500}
	lookupErr := &directory.APIError{Op: "find_installed_app", StatusCode: 403}

	tests := []struct {
		name     string
		resolver *fakeResolver
		tr       *fakeTransport
		want     error
		sends    int
	}{
		{"resolver failure", &fakeResolver{err: lookupErr}, &fakeTransport{}, directory.ErrLookupFailure, 0},
		{"member listing fails", &fakeResolver{res: installed}, &fakeTransport{membersErr: boom}, ErrDeliveryFailure, 0},
		{"no members", &fakeResolver{res: installed}, &fakeTransport{}, ErrDeliveryFailure, 0},
		{"create fails", &fakeResolver{res: installed}, &fakeTransport{members: []transport.Account{{ID: "29:a"}}, createErr: boom}, ErrDeliveryFailure, 0},
		{"send fails", &fakeResolver{res: installed}, &fakeTransport{members: []transport.Account{{ID: "29:a"}}, sendErr: boom}, ErrDeliveryFailure, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ledger, rec := newTestNotifier(tt.resolver, tt.tr)

			_, err := n.SendProactiveNotification(context.Background(), "alice", "tenant-1", "ping")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Len(t, tt.tr.sent, tt.sends)

			records, err := ledger.ListNotifications(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, store.OutcomeFailed, records[0].Outcome)
			assert.NotEmpty(t, records[0].Error)
			assert.Equal(t, []string{"failed"}, rec.got)
		})
	}
}

func TestSend_CanceledIsNotDeliveryFailure(t *testing.T) {
	tr := &fakeTransport{members: []transport.Account{{ID: "29:a"}}}
	n, ledger, _ := newTestNotifier(&fakeResolver{res: installed}, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.SendProactiveNotification(ctx, "alice", "tenant-1", "ping")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrDeliveryFailure))
	assert.Empty(t, tr.sent)

	// the failed attempt is still recorded
	records, err := ledger.ListNotifications(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSend_NilLedgerAndRecorder(t *testing.T) {
	tr := &fakeTransport{members: []transport.Account{{ID: "29:a"}}}
	n := New(Config{BotID: "28:app"}, &fakeResolver{res: installed}, tr, nil, nil, nil)

	res, err := n.SendProactiveNotification(context.Background(), "alice", "tenant-1", "ping")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, res.Outcome)
}

type failingLedger struct{}

func (failingLedger) RecordNotification(ctx context.Context, rec *store.NotificationRecord) error {
	return errors.New("disk full")
}

func (failingLedger) ListNotifications(ctx context.Context, limit int) ([]*store.NotificationRecord, error) {
	return nil, nil
}

func TestSend_LedgerErrorIsNotSurfaced(t *testing.T) {
	tr := &fakeTransport{members: []transport.Account{{ID: "29:a"}}}
	n := New(Config{BotID: "28:app"}, &fakeResolver{res: installed}, tr, failingLedger{}, nil, nil)

	res, err := n.SendProactiveNotification(context.Background(), "alice", "tenant-1", "ping")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, res.Outcome)
}
