// ABOUTME: Tests for Matrix conversation resolution
// ABOUTME: Uses a fake room finder to cover found, missing, and malformed principals

package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	rooms map[string]string
	err   error
	calls []string
}

func (f *fakeRooms) FindDirectRoom(_ context.Context, userID string) (string, bool, error) {
	f.calls = append(f.calls, userID)
	if f.err != nil {
		return "", false, f.err
	}
	room, ok := f.rooms[userID]
	return room, ok, nil
}

func TestMatrixResolver_Found(t *testing.T) {
	rooms := &fakeRooms{rooms: map[string]string{"@ada:example.com": "!dm:example.com"}}
	r := NewMatrixResolver(rooms, nil)

	res, err := r.ResolveConversation(context.Background(), "@ada:example.com", "example.com")
	require.NoError(t, err)
	assert.Equal(t, Resolution{ConversationID: "!dm:example.com", InstallationID: "!dm:example.com", Installed: true}, res)
}

func TestMatrixResolver_NoRoom(t *testing.T) {
	rooms := &fakeRooms{}
	r := NewMatrixResolver(rooms, nil)

	res, err := r.ResolveConversation(context.Background(), "@zed:example.com", "example.com")
	require.NoError(t, err)
	assert.False(t, res.Installed)
	assert.Empty(t, res.ConversationID)
}

func TestMatrixResolver_NotAMatrixUser(t *testing.T) {
	for _, user := range []string{"alice@contoso.com", "@nohost", "@:example.com", "ada:example.com"} {
		rooms := &fakeRooms{}
		r := NewMatrixResolver(rooms, nil)

		res, err := r.ResolveConversation(context.Background(), user, "t")
		require.NoError(t, err, user)
		assert.False(t, res.Installed, user)
		assert.Empty(t, rooms.calls, user)
	}
}

func TestMatrixResolver_LookupError(t *testing.T) {
	boom := errors.New("homeserver down")
	r := NewMatrixResolver(&fakeRooms{err: boom}, nil)

	_, err := r.ResolveConversation(context.Background(), "@ada:example.com", "example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
