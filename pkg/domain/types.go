package domain

import (
	"encoding/json"
	"time"
)

type Level string

const (
	LevelFriend   Level = "Eco Friend"
	LevelWarrior  Level = "Eco Warrior"
	LevelChampion Level = "Eco Champion"
)

// Level thresholds in eco points.
const (
	WarriorPoints  = 200
	ChampionPoints = 1000
)

// Upper bounds on a single recorded event.
const (
	MaxEventPoints = 1_000_000
	MaxEventItems  = 1_000_000
	MaxEventCarbon = 1e6
)

// LevelFor maps accumulated eco points to a display level.
func LevelFor(points int64) Level {
	switch {
	case points >= ChampionPoints:
		return LevelChampion
	case points >= WarriorPoints:
		return LevelWarrior
	default:
		return LevelFriend
	}
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryEvent is one append-only recycling record.
type HistoryEvent struct {
	ID              int64           `json:"id"`
	Username        string          `json:"username"`
	Filename        string          `json:"filename"`
	ProcessedAt     time.Time       `json:"processed_at"`
	EcoPointsEarned int64           `json:"eco_points_earned"`
	ItemsRecycled   int64           `json:"items_recycled"`
	CarbonSavedKg   float64         `json:"carbon_saved_kg"`
	StoredPath      string          `json:"-"`
	Detections      json.RawMessage `json:"detections,omitempty"`
}

// Summary is the sum of a user's history events.
type Summary struct {
	EcoPoints     int64   `json:"eco_points"`
	ItemsRecycled int64   `json:"items_recycled"`
	CarbonSavedKg float64 `json:"carbon_saved_kg"`
}

type LeaderboardEntry struct {
	Username string `json:"username"`
	Summary
	Level Level `json:"level"`
}

// Profile is a user together with the aggregate of their history.
type Profile struct {
	User
	Summary
	Level Level `json:"level"`
}

type Totals struct {
	Users       int64 `json:"users"`
	TotalPoints int64 `json:"total_points"`
	Centers     int64 `json:"centers"`
}

type RecyclingCenter struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Address  string   `json:"address"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Hours    string   `json:"hours"`
	Rating   float64  `json:"rating"`
	Services []string `json:"services"`
	Distance string   `json:"distance"`
	Phone    string   `json:"phone"`
	Website  string   `json:"website"`
}

// UserQuery selects a page of users for administrative listings.
type UserQuery struct {
	Search string
	Limit  int
	Offset int
}
