// Package feed produces the merged, town-wide activity stream: it fans
// out to every rig of a tenant in parallel, tags each event with its
// origin rig, merges the successful partitions into one time-ordered
// page, and drops partitions that error or time out. That drop is a
// deliberate availability-over-completeness tradeoff; the result
// reports how many rigs were omitted so callers can surface degradation
// instead of mistaking a partial page for a complete one.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"gastown/pkg/protocol"
	"gastown/pkg/rig"
	"gastown/pkg/town"
)

// DefaultLimit bounds a feed page when the caller does not ask for a
// specific size.
const DefaultLimit = 100

// MaxLimit is the hard page cap; larger requests are clamped.
const MaxLimit = 1000

// DefaultRigTimeout bounds how long one slow rig may hold up the page.
const DefaultRigTimeout = 3 * time.Second

// EventSource is one rig's read-only event log.
type EventSource interface {
	ListBeadEvents(ctx context.Context, since string, limit int) ([]protocol.BeadEvent, error)
}

// Source pairs a rig's identity with its event log.
type Source struct {
	RigID   string
	RigName string
	Events  EventSource
}

// Resolver maps a town to its event sources.
type Resolver interface {
	Sources(ctx context.Context, townID string) ([]Source, error)
}

// Feed is one merged page of town activity.
type Feed struct {
	Events      []protocol.TaggedEvent `json:"events"`
	Partial     bool                   `json:"partial"`      // true when at least one rig was dropped
	OmittedRigs int                    `json:"omitted_rigs"` // how many rigs failed or timed out
}

// Aggregator merges per-rig event logs into a town feed.
type Aggregator struct {
	resolver   Resolver
	rigTimeout time.Duration
}

// New creates an aggregator. rigTimeout <= 0 selects DefaultRigTimeout.
func New(resolver Resolver, rigTimeout time.Duration) *Aggregator {
	if rigTimeout <= 0 {
		rigTimeout = DefaultRigTimeout
	}
	return &Aggregator{resolver: resolver, rigTimeout: rigTimeout}
}

// TownFeed returns the merged page of events after since, across every
// rig of the town, capped at limit. Rig resolution failures (unknown
// town) are fatal; per-rig read failures are not: those rigs are
// omitted and counted. Events sort ascending by created_at, which is a
// fixed-width ISO-8601 string, so plain string comparison is
// chronological; (rig id, event id) breaks ties deterministically.
func (g *Aggregator) TownFeed(ctx context.Context, townID, since string, limit int) (*Feed, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	sources, err := g.resolver.Sources(ctx, townID)
	if err != nil {
		return nil, err
	}

	type result struct {
		source Source
		events []protocol.BeadEvent
		err    error
	}

	results := make([]result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			rigCtx, cancel := context.WithTimeout(ctx, g.rigTimeout)
			defer cancel()
			events, err := src.Events.ListBeadEvents(rigCtx, since, limit)
			results[i] = result{source: src, events: events, err: err}
		}(i, src)
	}
	wg.Wait()

	feed := &Feed{}
	for _, res := range results {
		if res.err != nil {
			feed.OmittedRigs++
			continue
		}
		for _, e := range res.events {
			feed.Events = append(feed.Events, protocol.TaggedEvent{BeadEvent: e, RigName: res.source.RigName})
		}
	}
	feed.Partial = feed.OmittedRigs > 0

	sort.SliceStable(feed.Events, func(i, j int) bool {
		a, b := feed.Events[i], feed.Events[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		if a.RigID != b.RigID {
			return a.RigID < b.RigID
		}
		return a.ID < b.ID
	})
	if len(feed.Events) > limit {
		feed.Events = feed.Events[:limit]
	}
	return feed, nil
}

// RegistryResolver adapts the town registry to the Resolver interface,
// resolving each active rig to its live actor.
type RegistryResolver struct {
	Registry *town.Registry
}

// Sources lists the town's active rigs as event sources.
func (r *RegistryResolver) Sources(ctx context.Context, townID string) ([]Source, error) {
	rigs, err := r.Registry.ListRigs(ctx, townID)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, 0, len(rigs))
	for _, rg := range rigs {
		actor, err := r.Registry.Actor(ctx, rg.ID)
		if err != nil {
			// Raced with removal; the rig simply isn't a source anymore.
			continue
		}
		sources = append(sources, Source{RigID: rg.ID, RigName: rg.Name, Events: actor})
	}
	return sources, nil
}

var _ EventSource = (*rig.Actor)(nil)
