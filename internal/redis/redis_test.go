package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mndd/notifier/internal/notifications"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+mr.Addr(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "claim:leader:quiz:v2:a:10", claimKey("leader:quiz", "v2:a:10"))
	assert.Equal(t, "leaderboard:quiz:realtime", leaderboardKey("quiz"))
	assert.Equal(t, "leaderboard:quiz:labels", labelsKey("quiz"))
}

func TestTryClaim_ConcurrentCallersOneWinner(t *testing.T) {
	c, _ := newTestClient(t)
	claims := c.Claims(time.Hour)

	const callers = 20
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := claims.TryClaim(context.Background(), "leader:quiz", "v2:u7:120")
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

func TestTryClaim_ExpiresAfterTTL(t *testing.T) {
	c, mr := newTestClient(t)
	claims := c.Claims(time.Hour)
	ctx := context.Background()

	won, err := claims.TryClaim(ctx, "daily:verse", "2026-03-10")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, time.Hour, mr.TTL(claimKey("daily:verse", "2026-03-10")))

	won, err = claims.TryClaim(ctx, "daily:verse", "2026-03-11")
	require.NoError(t, err)
	assert.True(t, won, "another occurrence of the same key is independent")

	mr.FastForward(time.Hour + time.Second)
	won, err = claims.TryClaim(ctx, "daily:verse", "2026-03-10")
	require.NoError(t, err)
	assert.True(t, won)
}

func TestTryClaim_ServerDown(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	won, err := c.Claims(time.Hour).TryClaim(context.Background(), "daily:verse", "2026-03-10")
	assert.Error(t, err)
	assert.False(t, won)
}

func TestRanked(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetScore(ctx, "quiz", "u1", "Ana", 120))
	require.NoError(t, c.SetScore(ctx, "quiz", "u2", "", 90))
	require.NoError(t, c.SetScore(ctx, "quiz", "u3", "Bia", 150))

	desc, err := c.Ranked(ctx, "quiz", notifications.OrderDesc)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, notifications.RankEntry{MemberID: "u3", Label: "Bia", Metric: 150}, desc[0])
	assert.Equal(t, "", desc[2].Label, "members without a label keep it empty")

	asc, err := c.Ranked(ctx, "quiz", notifications.OrderAsc)
	require.NoError(t, err)
	assert.Equal(t, "u2", asc[0].MemberID)

	empty, err := c.Ranked(ctx, "crossword:2026-W11", notifications.OrderAsc)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
