// Package stats derives per-user and global summaries from the history log at
// read time. Nothing is cached or materialized.
package stats

import (
	"context"
	"fmt"
	"sort"

	"ecowise/pkg/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLeaderboardSize = 25
	MaxLeaderboardSize     = 100
)

// Source is the read side of the event log the aggregator sums over.
type Source interface {
	SumHistory(username string) (domain.Summary, error)
	SumByUser(limit int) ([]domain.LeaderboardEntry, error)
	TotalPoints() (int64, error)
}

// Counter provides the row counts reported by Totals.
type Counter interface {
	UserCount() (int64, error)
	CenterCount() (int64, error)
}

// Aggregator computes summaries on demand. A larger deployment can swap Source
// for a materialized aggregate without changing callers.
type Aggregator struct {
	source  Source
	counter Counter
}

func New(source Source, counter Counter) *Aggregator {
	return &Aggregator{source: source, counter: counter}
}

// SummaryFor sums a user's events. No events yields the zero summary.
func (a *Aggregator) SummaryFor(username string) (domain.Summary, error) {
	sum, err := a.source.SumHistory(username)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("sum history: %w", err)
	}
	return clamp(sum), nil
}

// Leaderboard returns at most topN users ordered by eco points descending.
// topN <= 0 selects DefaultLeaderboardSize. Order among equal scores is unspecified.
func (a *Aggregator) Leaderboard(topN int) ([]domain.LeaderboardEntry, error) {
	topN = NormalizeTopN(topN)
	entries, err := a.source.SumByUser(topN)
	if err != nil {
		return nil, fmt.Errorf("sum by user: %w", err)
	}
	for i := range entries {
		entries[i].Summary = clamp(entries[i].Summary)
		entries[i].Level = domain.LevelFor(entries[i].EcoPoints)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EcoPoints > entries[j].EcoPoints
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

// Totals reports user count, total eco points and center count.
func (a *Aggregator) Totals(ctx context.Context) (domain.Totals, error) {
	var totals domain.Totals
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.counter.UserCount()
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		totals.Users = n
		return nil
	})
	g.Go(func() error {
		n, err := a.source.TotalPoints()
		if err != nil {
			return fmt.Errorf("total points: %w", err)
		}
		if n < 0 {
			n = 0
		}
		totals.TotalPoints = n
		return nil
	})
	g.Go(func() error {
		n, err := a.counter.CenterCount()
		if err != nil {
			return fmt.Errorf("count centers: %w", err)
		}
		totals.Centers = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Totals{}, err
	}
	return totals, nil
}

// NormalizeTopN applies the leaderboard default and upper bound.
func NormalizeTopN(topN int) int {
	if topN <= 0 {
		return DefaultLeaderboardSize
	}
	if topN > MaxLeaderboardSize {
		return MaxLeaderboardSize
	}
	return topN
}

func clamp(s domain.Summary) domain.Summary {
	if s.EcoPoints < 0 {
		s.EcoPoints = 0
	}
	if s.ItemsRecycled < 0 {
		s.ItemsRecycled = 0
	}
	if s.CarbonSavedKg < 0 {
		s.CarbonSavedKg = 0
	}
	return s
}
