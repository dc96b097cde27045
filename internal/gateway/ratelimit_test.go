// ABOUTME: Tests for the per-client rate limiter
// ABOUTME: Covers client keys, limiting, disabled limits, and idle sweeps

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-notifier/internal/auth"
)

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "ip:10.0.0.7", clientKey(r))

	r = r.WithContext(auth.WithAuth(r.Context(), &auth.AuthContext{Subject: "ops"}))
	assert.Equal(t, "sub:ops", clientKey(r))
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := newRateLimiter(1, 1)
	defer rl.Stop()

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"), "clients have separate buckets")
	assert.Equal(t, 2, rl.count())
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := newRateLimiter(0, 0)
	defer rl.Stop()

	for range 100 {
		assert.True(t, rl.allow("a"))
	}
	assert.Zero(t, rl.count())
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := newRateLimiter(60, 10)
	defer rl.Stop()

	rl.allow("a")
	rl.sweep(time.Now().Add(time.Minute))
	assert.Zero(t, rl.count())
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := newRateLimiter(60, 10)
	rl.Stop()
	rl.Stop()
}
