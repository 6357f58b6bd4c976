package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mndd/notifier/internal/civil"
	"github.com/mndd/notifier/internal/claim"
	"github.com/mndd/notifier/internal/push"
	"github.com/mndd/notifier/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func token(i int) string { return fmt.Sprintf("ExponentPushToken[dev-%d]", i) }

type fakeRegistry struct {
	devices []registry.Device
	err     error

	mu    sync.Mutex
	calls []registry.Selector
}

func (f *fakeRegistry) Resolve(_ context.Context, sel registry.Selector) ([]registry.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sel)
	if f.err != nil {
		return nil, f.err
	}
	if sel.Kind == registry.KindOwnedBy {
		want := map[string]bool{}
		for _, id := range sel.OwnerIDs {
			want[id] = true
		}
		var out []registry.Device
		for _, d := range f.devices {
			if want[d.OwnerID] {
				out = append(out, d)
			}
		}
		return out, nil
	}
	return append([]registry.Device(nil), f.devices...), nil
}

func devicesFor(owners ...string) []registry.Device {
	out := make([]registry.Device, len(owners))
	for i, o := range owners {
		out[i] = registry.Device{Address: token(i), OwnerID: o, LoggedIn: true}
	}
	return out
}

type sentCall struct {
	addresses []string
	tmpl      push.Template
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	fail  bool
}

func (f *fakeSender) Dispatch(_ context.Context, addrs []string, tmpl push.Template) push.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{addresses: addrs, tmpl: tmpl})
	out := push.BatchOutcome{Index: 0, Size: len(addrs), StatusCode: 200, Accepted: len(addrs)}
	if f.fail {
		out = push.BatchOutcome{Index: 0, Size: len(addrs), StatusCode: 502, Err: "gateway status 502"}
	}
	return push.Result{Addresses: len(addrs), Batches: []push.BatchOutcome{out}}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	reg    *fakeRegistry
	sender *fakeSender
	claims *claim.Memory
	clock  *clock
	loc    *time.Location
}

func newHarness(now time.Time) *harness {
	loc, err := civil.LoadLocation("")
	if err != nil {
		panic(err)
	}
	return &harness{
		reg:    &fakeRegistry{devices: devicesFor("u1", "u2", "u3")},
		sender: &fakeSender{},
		claims: claim.NewMemory(),
		clock:  &clock{now: now},
		loc:    loc,
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Registry: h.reg,
		Sender:   h.sender,
		Claims:   h.claims,
		Logger:   testLogger(),
		Now:      h.clock.Now,
	}
}

// --------------------------------------------------------------------------
// Stores
// --------------------------------------------------------------------------

type fakeEntities struct {
	mu       sync.Mutex
	entities map[string]Entity
	order    []string
	markErr  error
}

func newFakeEntities(es ...Entity) *fakeEntities {
	f := &fakeEntities{entities: map[string]Entity{}}
	for _, e := range es {
		f.entities[e.ID] = e
		f.order = append(f.order, e.ID)
	}
	return f
}

func (f *fakeEntities) PendingEntities(context.Context) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entity, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.entities[id])
	}
	return out, nil
}

func (f *fakeEntities) MarkNotified(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	e := f.entities[id]
	e.NotifiedAt = &at
	f.entities[id] = e
	return nil
}

// fakeSnapshots applies the same version guard as the SQL upsert: a save
// only lands when it is newer than what is stored.
type fakeSnapshots struct {
	mu       sync.Mutex
	snaps    map[string]Snapshot
	saves    int
	failNext int
}

func newFakeSnapshots() *fakeSnapshots { return &fakeSnapshots{snaps: map[string]Snapshot{}} }

func (f *fakeSnapshots) Snapshot(_ context.Context, scope string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[scope]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	return s, nil
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("snapshot write failed")
	}
	if cur, ok := f.snaps[s.ScopeKey]; ok && cur.Version >= s.Version {
		return nil
	}
	f.snaps[s.ScopeKey] = s
	f.saves++
	return nil
}

type fakeRanking struct {
	entries []RankEntry
}

func (f *fakeRanking) Ranked(context.Context, string, Order) ([]RankEntry, error) {
	return f.entries, nil
}

type fakeCursors struct {
	mu      sync.Mutex
	cursors map[string]time.Time
}

func newFakeCursors() *fakeCursors { return &fakeCursors{cursors: map[string]time.Time{}} }

func (f *fakeCursors) Cursor(_ context.Context, scope string) (Cursor, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.cursors[scope]
	return Cursor{ScopeKey: scope, LastSeenActivityAt: at}, ok, nil
}

func (f *fakeCursors) AdvanceCursor(_ context.Context, scope string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.cursors[scope]; !ok || at.After(cur) {
		f.cursors[scope] = at
	}
	return nil
}

type fakeGroups struct {
	latest  Activity
	has     bool
	members []string
	ids     []string
	listErr error
}

func (f *fakeGroups) Groups(context.Context) ([]string, error) {
	return f.ids, f.listErr
}

func (f *fakeGroups) LatestGroupMessage(context.Context, string) (Activity, bool, error) {
	return f.latest, f.has, nil
}

func (f *fakeGroups) GroupMembers(context.Context, string) ([]string, error) {
	return f.members, nil
}

type fakePublications struct {
	latest Activity
	has    bool
}

func (f *fakePublications) LatestPublication(context.Context, string) (Activity, bool, error) {
	return f.latest, f.has, nil
}

type fakeDaily struct {
	messages map[int]push.Template
}

func (f *fakeDaily) DailyMessage(_ context.Context, _ string, day civil.Date) (push.Template, bool, error) {
	t, ok := f.messages[day.Day]
	return t, ok, nil
}

type fakeMembers struct {
	members []Member
	err     error
}

func (f *fakeMembers) MembersWithBirthDates(context.Context) ([]Member, error) {
	return f.members, f.err
}
