package store

import (
	"errors"
	"strings"

	"ecowise/pkg/domain"
	"gorm.io/gorm"
)

// ErrDuplicateUsername is returned by CreateUser when the username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

// UserStore persists credentials. Usernames are unique and case-sensitive.
type UserStore interface {
	// CreateUser inserts a user atomically; a taken username yields ErrDuplicateUsername.
	CreateUser(username, passwordHash string) (domain.User, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id int64) (domain.User, bool, error)
	// ListUsers pages users by id. Search is a substring match that folds
	// ASCII letters only; other characters must match exactly on every backend.
	ListUsers(q domain.UserQuery) ([]domain.User, int64, error)
	AllUsers() ([]domain.User, error)
	UserCount() (int64, error)
}

// HistoryLog is the append-only recycling event log. There is no update or delete.
type HistoryLog interface {
	AppendHistory(e domain.HistoryEvent) (int64, error)
	// ListHistory returns newest events first; limit <= 0 returns all.
	ListHistory(username string, limit int) ([]domain.HistoryEvent, error)
	SumHistory(username string) (domain.Summary, error)
	// SumByUser groups events by username ordered by eco points descending.
	SumByUser(limit int) ([]domain.LeaderboardEntry, error)
	TotalPoints() (int64, error)
}

// CenterStore serves the recycling center directory.
type CenterStore interface {
	ListCenters() ([]domain.RecyclingCenter, error)
	GetCenter(id int64) (domain.RecyclingCenter, bool, error)
	CenterCount() (int64, error)
}

// Store combines all persistence operations.
type Store interface {
	UserStore
	HistoryLog
	CenterStore
}

// DefaultCenters are seeded into an empty center table.
func DefaultCenters() []domain.RecyclingCenter {
	return []domain.RecyclingCenter{
		{
			ID:       1,
			Name:     "Hassan City Municipal Waste Center",
			Type:     "recycling",
			Address:  "Near Bus Stand, MG Road, Hassan",
			Lat:      13.0069,
			Lng:      76.0991,
			Hours:    "8:00 AM - 6:00 PM",
			Rating:   4.2,
			Services: []string{"Plastic", "Paper", "Glass", "Metal"},
			Distance: "0.5 km",
		},
		{
			ID:       2,
			Name:     "Community Donation Center",
			Type:     "donation",
			Address:  "Station Road, Hassan",
			Lat:      13.008,
			Lng:      76.1005,
			Hours:    "9:00 AM - 5:00 PM",
			Rating:   4.0,
			Services: []string{"Books", "Clothes"},
			Distance: "1.1 km",
		},
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Drivers without error translation.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// foldASCII lowercases A-Z and leaves every other rune alone.
func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
