// Package registry resolves a target selector into a deduplicated set of
// valid push addresses.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mndd/notifier/internal/push"
)

// DefaultMaxKeysPerQuery is the store's cap on "key is one of" filters.
const DefaultMaxKeysPerQuery = 10

// Device is a registered push destination.
type Device struct {
	Address  string
	OwnerID  string // empty when the device was registered anonymously
	LoggedIn bool
}

// Kind identifies how a Selector picks devices.
type Kind string

const (
	KindAllLoggedIn Kind = "all_logged_in"
	KindOwnedBy     Kind = "owned_by"
	KindSingle      Kind = "single"
)

// Selector names a target audience.
type Selector struct {
	Kind     Kind     `json:"kind"`
	OwnerIDs []string `json:"owner_ids,omitempty"`
	Address  string   `json:"address,omitempty"`
}

// AllLoggedIn selects every device currently logged in.
func AllLoggedIn() Selector { return Selector{Kind: KindAllLoggedIn} }

// OwnedBy selects every device owned by one of uids.
func OwnedBy(uids ...string) Selector { return Selector{Kind: KindOwnedBy, OwnerIDs: uids} }

// Single selects exactly one literal address.
func Single(address string) Selector { return Selector{Kind: KindSingle, Address: address} }

// Empty reports whether the selector names owners but the owner list is
// empty, e.g. a group nobody has joined. It selects no devices.
func (s Selector) Empty() bool {
	return s.Kind == KindOwnedBy && len(s.OwnerIDs) == 0
}

// Validate checks the selector is well formed.
func (s Selector) Validate() error {
	switch s.Kind {
	case KindAllLoggedIn:
		return nil
	case KindOwnedBy:
		if len(s.OwnerIDs) == 0 {
			return fmt.Errorf("selector %s: no owner ids", s.Kind)
		}
		return nil
	case KindSingle:
		if s.Address == "" {
			return fmt.Errorf("selector %s: empty address", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown selector kind %q", s.Kind)
	}
}

// cacheKey returns a stable key for s; owner order does not matter.
func (s Selector) cacheKey() string {
	if s.Kind != KindOwnedBy {
		return string(s.Kind)
	}
	ids := slices.Clone(s.OwnerIDs)
	slices.Sort(ids)
	return string(s.Kind) + ":" + strings.Join(slices.Compact(ids), ",")
}

// Source is the device store the registry reads from.
type Source interface {
	LoggedInDevices(ctx context.Context) ([]Device, error)
	// DevicesByOwners must be called with at most the store's key cap.
	DevicesByOwners(ctx context.Context, ownerIDs []string) ([]Device, error)
}

// Config controls paging and caching.
type Config struct {
	MaxKeysPerQuery int
	CacheTTL        time.Duration // 0 disables caching
	CacheSize       int
}

// Registry resolves selectors against a Source.
type Registry struct {
	source Source
	cfg    Config
	cache  *expirable.LRU[string, []Device]
	logger *slog.Logger
}

// New creates a registry.
func New(source Source, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxKeysPerQuery <= 0 {
		cfg.MaxKeysPerQuery = DefaultMaxKeysPerQuery
	}
	r := &Registry{source: source, cfg: cfg, logger: logger}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 256
		}
		r.cache = expirable.NewLRU[string, []Device](size, nil, cfg.CacheTTL)
	}
	return r
}

// Resolve returns the valid, deduplicated devices the selector names.
// Malformed addresses are dropped silently.
func (r *Registry) Resolve(ctx context.Context, sel Selector) ([]Device, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	if sel.Kind == KindSingle {
		return Dedupe([]Device{{Address: strings.TrimSpace(sel.Address)}}), nil
	}

	key := sel.cacheKey()
	if r.cache != nil {
		if devs, ok := r.cache.Get(key); ok {
			return devs, nil
		}
	}

	var raw []Device
	var err error
	switch sel.Kind {
	case KindAllLoggedIn:
		raw, err = r.source.LoggedInDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("logged-in devices: %w", err)
		}
	case KindOwnedBy:
		raw, err = r.byOwners(ctx, sel.OwnerIDs)
		if err != nil {
			return nil, err
		}
	}

	devs := Dedupe(raw)
	if dropped := len(raw) - len(devs); dropped > 0 {
		r.logger.Debug("Dropped duplicate or invalid addresses", "selector", sel.Kind, "dropped", dropped)
	}
	if r.cache != nil {
		r.cache.Add(key, devs)
	}
	return devs, nil
}

// byOwners pages uids into groups the store accepts and merges the results.
func (r *Registry) byOwners(ctx context.Context, uids []string) ([]Device, error) {
	seen := make(map[string]struct{}, len(uids))
	unique := make([]string, 0, len(uids))
	for _, id := range uids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	var out []Device
	for _, page := range push.Chunk(unique, r.cfg.MaxKeysPerQuery) {
		devs, err := r.source.DevicesByOwners(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("devices by owners: %w", err)
		}
		out = append(out, devs...)
	}
	return out, nil
}

// Dedupe drops invalid addresses and keeps the first device seen for each
// literal address.
func Dedupe(devs []Device) []Device {
	seen := make(map[string]struct{}, len(devs))
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		if !push.ValidAddress(d.Address) {
			continue
		}
		if _, dup := seen[d.Address]; dup {
			continue
		}
		seen[d.Address] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Addresses returns the address strings of devs in order.
func Addresses(devs []Device) []string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.Address
	}
	return out
}

// Partition splits devs into those owned by ownerID and the rest.
func Partition(devs []Device, ownerID string) (owned, others []Device) {
	for _, d := range devs {
		if ownerID != "" && d.OwnerID == ownerID {
			owned = append(owned, d)
		} else {
			others = append(others, d)
		}
	}
	return owned, others
}
