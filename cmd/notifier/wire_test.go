package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mndd/notifier/internal/config"
	"github.com/mndd/notifier/internal/notifications"
	"github.com/mndd/notifier/internal/registry"
)

type fakePubs struct {
	latest notifications.Activity
	ok     bool
	err    error
}

func (f fakePubs) LatestPublication(context.Context, string) (notifications.Activity, bool, error) {
	return f.latest, f.ok, f.err
}

type nopRanking struct{}

func (nopRanking) Ranked(context.Context, string, notifications.Order) ([]notifications.RankEntry, error) {
	return nil, nil
}

func TestBuildBoards(t *testing.T) {
	cfgs := []config.BoardConfig{
		{Name: "quiz", Scope: "quiz", Order: "desc", Personalized: true},
		{Name: "crossword", ScopeFromChannel: "crossword", Order: "asc"},
	}
	pubs := fakePubs{latest: notifications.Activity{ID: "2026-W11"}, ok: true}

	boards := buildBoards(cfgs, nopRanking{}, pubs)
	require.Len(t, boards, 2)

	quiz := boards[0]
	assert.Equal(t, "quiz", quiz.Scope)
	assert.Equal(t, notifications.OrderDesc, quiz.Order)
	assert.Nil(t, quiz.ScopeFunc)
	require.NotNil(t, quiz.Personal)
	assert.Equal(t, "quiz_leader", quiz.Message("quiz", notifications.RankEntry{Label: "Ana"}).Data["type"])

	cross := boards[1]
	assert.Nil(t, cross.Personal)
	require.NotNil(t, cross.ScopeFunc)
	scope, ok, err := cross.ScopeFunc(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "crossword:2026-W11", scope)
	assert.Equal(t, "crossword_leader", cross.Message(scope, notifications.RankEntry{Metric: 60}).Data["type"])
}

func TestLatestPublicationScope_NothingPublished(t *testing.T) {
	scope, ok, err := latestPublicationScope(fakePubs{}, "crossword")(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, scope)

	_, ok, err = latestPublicationScope(fakePubs{err: errors.New("db down")}, "crossword")(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDailyJobs(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	cfg := &config.Config{Location: loc}

	jobs, err := dailyJobs([]config.DailyConfig{
		{Name: "verse", Channel: "verse", At: "07:00", Window: 5 * time.Minute},
	}, cfg)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 7, jobs[0].At.Hour)
	assert.Equal(t, 0, jobs[0].At.Minute)
	assert.Equal(t, loc, jobs[0].Location)

	_, err = dailyJobs([]config.DailyConfig{{Name: "bad", At: "25:00"}}, cfg)
	assert.Error(t, err)
}

func TestBirthdayConfig(t *testing.T) {
	cfg := &config.Config{Location: time.UTC}

	bc, err := birthdayConfig(config.BirthdayConfig{At: "09:30", Window: 10 * time.Minute}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 9, bc.At.Hour)
	assert.Equal(t, 30, bc.At.Minute)
	assert.Equal(t, 10*time.Minute, bc.Window)
	assert.Equal(t, time.UTC, bc.Location)

	_, err = birthdayConfig(config.BirthdayConfig{At: "nine"}, cfg)
	assert.Error(t, err)
}

func TestFeeds(t *testing.T) {
	groups := groupFeeds([]config.GroupConfig{{ID: "g1", Label: "Jovens"}}, nil)
	require.Len(t, groups, 1)
	assert.Equal(t, "group:g1", groups[0].Scope())

	pubs := publicationFeeds([]string{"crossword", "news"}, fakePubs{})
	require.Len(t, pubs, 2)
	assert.Equal(t, "publication:news", pubs[1].Scope())
}

func TestSelectorFromFlags(t *testing.T) {
	sel, err := selectorFromFlags(true, nil, "")
	require.NoError(t, err)
	assert.Equal(t, registry.KindAllLoggedIn, sel.Kind)

	sel, err = selectorFromFlags(false, []string{"u1", "u2"}, "")
	require.NoError(t, err)
	assert.Equal(t, registry.OwnedBy("u1", "u2"), sel)

	sel, err = selectorFromFlags(false, nil, "ExponentPushToken[abc]")
	require.NoError(t, err)
	assert.Equal(t, registry.KindSingle, sel.Kind)

	_, err = selectorFromFlags(false, nil, "")
	assert.Error(t, err)
	_, err = selectorFromFlags(true, []string{"u1"}, "")
	assert.Error(t, err)
}

func TestDataFromFlags(t *testing.T) {
	assert.Nil(t, dataFromFlags(nil))
	assert.Equal(t, map[string]any{"screen": "agenda"}, dataFromFlags(map[string]string{"screen": "agenda"}))
}
