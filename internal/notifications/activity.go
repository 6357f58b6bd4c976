package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

// Activity is the newest thing that happened in a scope.
type Activity struct {
	ID    string
	At    time.Time
	Label string
}

// Cursor is the newest activity already notified for a scope.
type Cursor struct {
	ScopeKey           string
	LastSeenActivityAt time.Time
}

// CursorStore reads and advances cursors. Advance never moves a cursor
// backwards.
type CursorStore interface {
	Cursor(ctx context.Context, scope string) (Cursor, bool, error)
	AdvanceCursor(ctx context.Context, scope string, at time.Time) error
}

// Feed is one activity scope.
type Feed interface {
	Scope() string
	Latest(ctx context.Context) (Activity, bool, error)
	Audience(ctx context.Context) (registry.Selector, error)
	Template(a Activity) push.Template
}

// FeedSource lists feeds at run time.
type FeedSource func(ctx context.Context) ([]Feed, error)

// ActivityWatch is the activity-since-marker evaluator over a set of feeds.
type ActivityWatch struct {
	name    string
	deps    Deps
	cursors CursorStore
	feeds   []Feed
	source  FeedSource
}

// NewActivityWatch creates an activity evaluator registered under name.
func NewActivityWatch(name string, deps Deps, cursors CursorStore, feeds ...Feed) *ActivityWatch {
	return &ActivityWatch{name: name, deps: deps.withDefaults(), cursors: cursors, feeds: feeds}
}

// WithSource adds feeds discovered on every run to the fixed ones. A
// discovered feed whose scope is already fixed is ignored.
func (a *ActivityWatch) WithSource(src FeedSource) *ActivityWatch {
	a.source = src
	return a
}

func (a *ActivityWatch) Name() string { return a.name }

func (a *ActivityWatch) currentFeeds(ctx context.Context) ([]Feed, error) {
	if a.source == nil {
		return a.feeds, nil
	}
	found, err := a.source(ctx)
	if err != nil {
		return a.feeds, err
	}
	feeds := append([]Feed(nil), a.feeds...)
	seen := make(map[string]bool, len(feeds)+len(found))
	for _, f := range feeds {
		seen[f.Scope()] = true
	}
	for _, f := range found {
		if !seen[f.Scope()] {
			seen[f.Scope()] = true
			feeds = append(feeds, f)
		}
	}
	return feeds, nil
}

// Run checks every feed once.
func (a *ActivityWatch) Run(ctx context.Context) (sum RunSummary) {
	sum = newRun(a.name, a.deps.Now())
	defer func() { sum.finish(a.deps.Now()) }()

	feeds, err := a.currentFeeds(ctx)
	if err != nil {
		a.deps.Logger.Warn("Feed discovery failed", "evaluator", a.name, "error", err)
		sum.addError("discover feeds: %v", err)
	}
	for _, f := range feeds {
		if ctx.Err() != nil {
			sum.addError("run cancelled: %v", ctx.Err())
			break
		}
		sum.Evaluated++
		if err := a.checkFeed(ctx, f, &sum); err != nil {
			a.deps.Logger.Warn("Activity check failed", "scope", f.Scope(), "error", err)
			sum.addError("scope %s: %v", f.Scope(), err)
		}
	}
	return sum
}

func (a *ActivityWatch) checkFeed(ctx context.Context, f Feed, sum *RunSummary) error {
	scope := f.Scope()
	latest, ok, err := f.Latest(ctx)
	if err != nil {
		return fmt.Errorf("latest activity: %w", err)
	}
	if !ok {
		return nil
	}

	cur, found, err := a.cursors.Cursor(ctx, scope)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if found && !latest.At.After(cur.LastSeenActivityAt) {
		return nil
	}
	sum.Due++

	sel, err := f.Audience(ctx)
	if err != nil {
		return fmt.Errorf("audience: %w", err)
	}
	var devs []registry.Device
	if !sel.Empty() {
		if devs, err = a.deps.Registry.Resolve(ctx, sel); err != nil {
			return fmt.Errorf("resolve audience: %w", err)
		}
	}

	occurrence := latest.At.UTC().Format(time.RFC3339Nano)
	if latest.ID != "" {
		occurrence = latest.ID
	}
	won, err := claimAndSend(ctx, a.deps, sum, keyActivity+scope, occurrence, devs, f.Template(latest))
	if err != nil || !won {
		return err
	}
	sum.Notified++

	if err := a.cursors.AdvanceCursor(ctx, scope, latest.At); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Feeds
// --------------------------------------------------------------------------

// GroupStore reads group chat activity and membership.
type GroupStore interface {
	LatestGroupMessage(ctx context.Context, groupID string) (Activity, bool, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// GroupDirectory is a GroupStore that can also list its groups.
type GroupDirectory interface {
	GroupStore
	Groups(ctx context.Context) ([]string, error)
}

// DiscoverGroups is a FeedSource over every group in dir.
func DiscoverGroups(dir GroupDirectory) FeedSource {
	return func(ctx context.Context) ([]Feed, error) {
		ids, err := dir.Groups(ctx)
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		feeds := make([]Feed, 0, len(ids))
		for _, id := range ids {
			feeds = append(feeds, GroupFeed{GroupID: id, Store: dir})
		}
		return feeds, nil
	}
}

// GroupFeed notifies group members that new messages arrived.
type GroupFeed struct {
	GroupID string
	Label   string
	Store   GroupStore
}

func (g GroupFeed) Scope() string { return "group:" + g.GroupID }

func (g GroupFeed) Latest(ctx context.Context) (Activity, bool, error) {
	a, ok, err := g.Store.LatestGroupMessage(ctx, g.GroupID)
	// Message ids are not part of the occurrence; the digest is per timestamp.
	a.ID = ""
	return a, ok, err
}

func (g GroupFeed) Audience(ctx context.Context) (registry.Selector, error) {
	members, err := g.Store.GroupMembers(ctx, g.GroupID)
	if err != nil {
		return registry.Selector{}, err
	}
	return registry.OwnedBy(members...), nil
}

func (g GroupFeed) Template(a Activity) push.Template {
	return groupDigestTemplate(g.GroupID, g.Label, a)
}

// PublicationStore returns the newest published item on a channel.
type PublicationStore interface {
	LatestPublication(ctx context.Context, channel string) (Activity, bool, error)
}

// PublicationFeed notifies everyone when a channel publishes something new.
type PublicationFeed struct {
	Channel string
	Store   PublicationStore
}

func (p PublicationFeed) Scope() string { return "publication:" + p.Channel }

func (p PublicationFeed) Latest(ctx context.Context) (Activity, bool, error) {
	return p.Store.LatestPublication(ctx, p.Channel)
}

func (p PublicationFeed) Audience(context.Context) (registry.Selector, error) {
	return registry.AllLoggedIn(), nil
}

func (p PublicationFeed) Template(a Activity) push.Template {
	return publicationTemplate(p.Channel, a)
}
