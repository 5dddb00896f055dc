package app

import (
	"context"
	"fmt"
	"strings"

	"ecowise/pkg/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAdminPageSize = 50
	MaxAdminPageSize     = 500
	maxSearchLength      = 64
)

// UserPage is one page of the administrative user listing.
type UserPage struct {
	Users  []domain.User `json:"users"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// UserDetail is a user with the summary and full history of their events.
type UserDetail struct {
	User    domain.User           `json:"user"`
	Summary domain.Summary        `json:"summary"`
	Level   domain.Level          `json:"level"`
	History []domain.HistoryEvent `json:"history"`
}

// AdminListUsers pages through users ordered by id, optionally filtered by a
// case-insensitive username substring.
func (a *App) AdminListUsers(q domain.UserQuery) (UserPage, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return UserPage{}, invalidf("limit and offset must be >= 0")
	}
	if q.Limit == 0 {
		q.Limit = DefaultAdminPageSize
	}
	if q.Limit > MaxAdminPageSize {
		q.Limit = MaxAdminPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	if len(q.Search) > maxSearchLength {
		return UserPage{}, invalidf("search must be at most %d bytes", maxSearchLength)
	}
	users, total, err := a.store.ListUsers(q)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return UserPage{Users: users, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// AdminUserDetail loads a user by id with their full history.
func (a *App) AdminUserDetail(ctx context.Context, id int64) (UserDetail, error) {
	if id <= 0 {
		return UserDetail{}, ErrNotFound
	}
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return UserDetail{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return UserDetail{}, ErrNotFound
	}
	detail := UserDetail{User: user}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := a.stats.SummaryFor(user.Username)
		if err != nil {
			return err
		}
		detail.Summary = summary
		return nil
	})
	g.Go(func() error {
		history, err := a.store.ListHistory(user.Username, 0)
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}
		detail.History = history
		return nil
	})
	if err := g.Wait(); err != nil {
		return UserDetail{}, err
	}
	if detail.History == nil {
		detail.History = []domain.HistoryEvent{}
	}
	detail.Level = domain.LevelFor(detail.Summary.EcoPoints)
	return detail, nil
}

// ExportUsers returns every user for the CSV export.
func (a *App) ExportUsers() ([]domain.User, error) {
	users, err := a.store.AllUsers()
	if err != nil {
		return nil, fmt.Errorf("export users: %w", err)
	}
	return users, nil
}
