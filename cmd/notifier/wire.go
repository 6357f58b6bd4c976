package main

import (
	"context"
	"fmt"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/claim"
	"github.com/mndd/notifier/internal/config"
	"github.com/mndd/notifier/internal/db"
	"github.com/mndd/notifier/internal/maintenance"
	"github.com/mndd/notifier/internal/notifications"
	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/redis"
	"github.com/mndd/notifier/internal/registry"
	"github.com/mndd/notifier/internal/store"
)

// app holds the components one process wires from config.
type app struct {
	cfg    *config.Config
	pool   *db.Pool
	store  *store.Store
	redis  *redis.Client
	purger maintenance.ClaimPurger
	runner *notifications.Runner
	intake *notifications.Intake
}

// scoreWriter records leaderboard metrics for the score command.
type scoreWriter interface {
	SetScore(ctx context.Context, scope, memberID, label string, metric float64) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := db.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a := &app{cfg: cfg, pool: pool, store: store.New(pool)}

	if cfg.UsesRedis() {
		rc, err := redis.New(ctx, cfg.RedisURL, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rc
	}

	var claims claim.Store
	switch cfg.ClaimBackend {
	case config.BackendRedis:
		// Redis claims expire by TTL, so there is nothing to purge.
		claims = a.redis.Claims(cfg.ClaimTTL)
	case config.BackendMemory:
		mem := claim.NewMemory()
		claims, a.purger = mem, mem
	default:
		claims, a.purger = a.store, a.store
	}

	reg := registry.New(a.store, registry.Config{
		MaxKeysPerQuery: cfg.RegistryMaxKeysPerQuery,
		CacheTTL:        cfg.RegistryCacheTTL,
	}, logger)

	sender := push.NewDispatcher(
		push.NewClient(cfg.PushURL, cfg.PushAccessToken, logger),
		push.DispatcherConfig{
			BatchSize:       cfg.PushBatchSize,
			CallTimeout:     cfg.PushTimeout,
			RatePerSecond:   cfg.PushRatePerSecond,
			BreakerFailures: uint32(max(cfg.BreakerFailures, 0)),
			BreakerCooldown: cfg.BreakerCooldown,
		}, logger)

	deps := notifications.Deps{
		Registry: reg,
		Sender:   sender,
		Claims:   claims,
		Logger:   logger,
	}

	evals, err := a.evaluators(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = notifications.NewRunner(a.store, logger, evals...)
	a.intake = notifications.NewIntake(deps, a.store)

	logger.Info("Components wired",
		"claims", cfg.ClaimBackend,
		"leaderboards", cfg.LeaderboardBackend,
		"evaluators", a.runner.Names())
	return a, nil
}

// evaluators builds every evaluator the schedule describes.
func (a *app) evaluators(deps notifications.Deps) ([]notifications.Evaluator, error) {
	sched := a.cfg.Schedule

	var ranking notifications.RankingSource = a.store
	if a.cfg.LeaderboardBackend == config.BackendRedis {
		ranking = a.redis
	}

	evals := []notifications.Evaluator{
		notifications.NewReminders(deps, a.store, notifications.ReminderConfig{
			Lead:      sched.Reminders.Lead,
			Tolerance: sched.Reminders.Tolerance,
			Location:  a.cfg.Location,
		}),
		notifications.NewLeaders(deps, a.store, buildBoards(sched.Leaderboards, ranking, a.store)...),
		notifications.NewActivityWatch("digests", deps, a.store, groupFeeds(sched.Groups, a.store)...).
			WithSource(notifications.DiscoverGroups(a.store)),
		notifications.NewActivityWatch("publications", deps, a.store, publicationFeeds(sched.Publications, a.store)...),
	}

	jobs, err := dailyJobs(sched.Daily, a.cfg)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		evals = append(evals, notifications.NewDaily(deps, a.store, job))
	}

	bday, err := birthdayConfig(sched.Birthdays, a.cfg)
	if err != nil {
		return nil, err
	}
	return append(evals, notifications.NewBirthdays(deps, a.store, bday)), nil
}

// scores picks where the score command writes.
func (a *app) scores() scoreWriter {
	if a.cfg.LeaderboardBackend == config.BackendRedis {
		return a.redis
	}
	return a.store
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("Closing redis failed", "error", err)
		}
	}
	a.pool.Close()
}

// --------------------------------------------------------------------------
// Schedule → evaluator config
// --------------------------------------------------------------------------

func buildBoards(cfgs []config.BoardConfig, ranking notifications.RankingSource, pubs notifications.PublicationStore) []notifications.Board {
	boards := make([]notifications.Board, 0, len(cfgs))
	for _, bc := range cfgs {
		order := notifications.Order(bc.Order)
		b := notifications.Board{
			Name:         bc.Name,
			Scope:        bc.Scope,
			Order:        order,
			Personalized: bc.Personalized,
			Source:       ranking,
			Message:      notifications.DefaultMessage(order),
		}
		if bc.Personalized {
			b.Personal = notifications.LeaderPersonalMessage
		}
		if bc.ScopeFromChannel != "" {
			b.ScopeFunc = latestPublicationScope(pubs, bc.ScopeFromChannel)
		}
		boards = append(boards, b)
	}
	return boards
}

// latestPublicationScope scopes a board to the newest publication on
// channel, e.g. "crossword:2026-W11".
func latestPublicationScope(pubs notifications.PublicationStore, channel string) notifications.ScopeFunc {
	return func(ctx context.Context) (string, bool, error) {
		latest, ok, err := pubs.LatestPublication(ctx, channel)
		if err != nil || !ok || latest.ID == "" {
			return "", false, err
		}
		return channel + ":" + latest.ID, true, nil
	}
}

func groupFeeds(groups []config.GroupConfig, st notifications.GroupStore) []notifications.Feed {
	feeds := make([]notifications.Feed, 0, len(groups))
	for _, g := range groups {
		feeds = append(feeds, notifications.GroupFeed{GroupID: g.ID, Label: g.Label, Store: st})
	}
	return feeds
}

func publicationFeeds(channels []string, st notifications.PublicationStore) []notifications.Feed {
	feeds := make([]notifications.Feed, 0, len(channels))
	for _, ch := range channels {
		feeds = append(feeds, notifications.PublicationFeed{Channel: ch, Store: st})
	}
	return feeds
}

func birthdayConfig(bc config.BirthdayConfig, cfg *config.Config) (notifications.BirthdayConfig, error) {
	at, err := civil.ParseClock(bc.At)
	if err != nil {
		return notifications.BirthdayConfig{}, fmt.Errorf("birthdays: %w", err)
	}
	return notifications.BirthdayConfig{At: at, Window: bc.Window, Location: cfg.Location}, nil
}

func dailyJobs(cfgs []config.DailyConfig, cfg *config.Config) ([]notifications.DailyJob, error) {
	jobs := make([]notifications.DailyJob, 0, len(cfgs))
	for _, dc := range cfgs {
		at, err := civil.ParseClock(dc.At)
		if err != nil {
			return nil, fmt.Errorf("daily job %s: %w", dc.Name, err)
		}
		jobs = append(jobs, notifications.DailyJob{
			Name:     dc.Name,
			Channel:  dc.Channel,
			At:       at,
			Window:   dc.Window,
			Location: cfg.Location,
		})
	}
	return jobs, nil
}
