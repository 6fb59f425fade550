package notify

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_StartStop(t *testing.T) {
	// GIVEN: a cache holding one expired and one live key
	clock := newFakeClock()
	cache := NewCache(DefaultTTL, WithCacheClock(clock.Now))
	cache.Reserve(Key{Template: "a", Recipient: "old@example.com"})
	clock.Advance(3 * time.Second)
	cache.Reserve(Key{Template: "a", Recipient: "new@example.com"})

	s := NewSweeper(cache, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// WHEN
	s.Start()
	s.Start()

	// THEN: the expired key is swept in the background
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	s := NewSweeper(NewCache(0), 0, nil)

	assert.Equal(t, time.Minute, s.Interval)
}
