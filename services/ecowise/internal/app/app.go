package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"ecowise/pkg/auth"
	"ecowise/pkg/domain"
	"ecowise/pkg/session"
	"ecowise/pkg/stats"
	"ecowise/pkg/storage"
	"ecowise/pkg/store"
	"ecowise/services/ecowise/internal/analysisclient"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
	MaxFilenameLength   = 255
)

// Analyzer is the external image analysis collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, filename string, image io.Reader) (analysisclient.Analysis, error)
	Health(ctx context.Context) (map[string]any, error)
}

// Config holds runtime collaborators for the core application.
type Config struct {
	Store    store.Store
	Sessions *session.Issuer
	Hasher   *auth.Hasher
	// Objects keeps uploaded images. Nil disables image retention.
	Objects           storage.ObjectStore
	Analysis          Analyzer
	AllowedExtensions []string
	MaxUploadBytes    int64
	Now               func() time.Time
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store      store.Store
	sessions   *session.Issuer
	hasher     *auth.Hasher
	stats      *stats.Aggregator
	objects    storage.ObjectStore
	analysis   Analyzer
	extensions map[string]struct{}
	maxUpload  int64
	now        func() time.Time
}

// New constructs the application. Store and Sessions are required.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session issuer required")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = auth.NewHasher(auth.DefaultCost)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}
	exts := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &App{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		hasher:     cfg.Hasher,
		stats:      stats.New(cfg.Store, cfg.Store),
		objects:    cfg.Objects,
		analysis:   cfg.Analysis,
		extensions: exts,
		maxUpload:  cfg.MaxUploadBytes,
		now:        cfg.Now,
	}, nil
}

// Register creates a user and issues a session token.
func (a *App) Register(username, password string) (domain.User, string, error) {
	username = auth.NormalizeUsername(username)
	if err := auth.ValidateUsername(username); err != nil {
		return domain.User{}, "", invalidf("%s", err.Error())
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", invalidf("%s", err.Error())
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(username, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return domain.User{}, "", ErrConflict
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.issue(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Login validates credentials and issues a session token. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (a *App) Login(username, password string) (domain.User, string, error) {
	username = auth.NormalizeUsername(username)
	if username == "" || password == "" {
		return domain.User{}, "", invalidf("username and password required")
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		a.hasher.CheckMissing(password)
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !a.hasher.Check(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.issue(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

func (a *App) issue(user domain.User) (string, error) {
	token, err := a.sessions.Issue(session.Identity{ID: user.ID, Username: user.Username})
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return token, nil
}

// UserFromToken resolves the user behind a session token. Every failure
// matches ErrUnauthorized; the wrapped cause is for logs.
func (a *App) UserFromToken(token string) (domain.User, error) {
	id, err := a.sessions.Verify(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	user, ok, err := a.store.GetUserByID(id.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || user.Username != id.Username {
		return domain.User{}, fmt.Errorf("%w: subject no longer exists", ErrUnauthorized)
	}
	return user, nil
}

// Profile returns a user together with the summary of their history.
func (a *App) Profile(ctx context.Context, username string) (domain.Profile, error) {
	var (
		user    domain.User
		found   bool
		summary domain.Summary
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, found, err = a.store.GetUserByUsername(username)
		if err != nil {
			return fmt.Errorf("fetch user: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		summary, err = a.stats.SummaryFor(username)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Profile{}, err
	}
	if !found {
		return domain.Profile{}, ErrNotFound
	}
	return domain.Profile{User: user, Summary: summary, Level: domain.LevelFor(summary.EcoPoints)}, nil
}

// History returns a user's events newest first. limit 0 selects the default.
func (a *App) History(username string, limit int) ([]domain.HistoryEvent, error) {
	switch {
	case limit < 0:
		return nil, invalidf("limit must be >= 0")
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	items, err := a.store.ListHistory(username, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if items == nil {
		items = []domain.HistoryEvent{}
	}
	return items, nil
}

// HistoryInput is a directly submitted recycling event.
type HistoryInput struct {
	Filename        string
	EcoPointsEarned int64
	ItemsRecycled   int64
	CarbonSavedKg   float64
}

func (in HistoryInput) validate() error {
	if in.Filename == "" {
		return invalidf("filename required")
	}
	if len(in.Filename) > MaxFilenameLength {
		return invalidf("filename must be at most %d bytes", MaxFilenameLength)
	}
	return validateContribution(in.EcoPointsEarned, in.ItemsRecycled, in.CarbonSavedKg)
}

// validateContribution bounds one event so sums over the log stay representable.
func validateContribution(points, items int64, carbon float64) error {
	if points < 0 || points > domain.MaxEventPoints {
		return invalidf("eco_points_earned must be between 0 and %d", domain.MaxEventPoints)
	}
	if items < 0 || items > domain.MaxEventItems {
		return invalidf("items_recycled must be between 0 and %d", domain.MaxEventItems)
	}
	if math.IsNaN(carbon) || carbon < 0 || carbon > domain.MaxEventCarbon {
		return invalidf("carbon_saved_kg must be between 0 and %g", float64(domain.MaxEventCarbon))
	}
	return nil
}

// RecordHistory appends an event for the authenticated user.
func (a *App) RecordHistory(user domain.User, in HistoryInput) (int64, error) {
	in.Filename = strings.TrimSpace(in.Filename)
	if err := in.validate(); err != nil {
		return 0, err
	}
	if err := a.ensureUser(user); err != nil {
		return 0, err
	}
	id, err := a.store.AppendHistory(domain.HistoryEvent{
		Username:        user.Username,
		Filename:        in.Filename,
		ProcessedAt:     a.now().UTC(),
		EcoPointsEarned: in.EcoPointsEarned,
		ItemsRecycled:   in.ItemsRecycled,
		CarbonSavedKg:   in.CarbonSavedKg,
	})
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	return id, nil
}

func (a *App) ensureUser(user domain.User) error {
	current, ok, err := a.store.GetUserByID(user.ID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok || current.Username != user.Username {
		return ErrUnauthorized
	}
	return nil
}

// Leaderboard returns the top users by eco points.
func (a *App) Leaderboard(limit int) ([]domain.LeaderboardEntry, error) {
	if limit < 0 {
		return nil, invalidf("limit must be >= 0")
	}
	entries, err := a.stats.Leaderboard(limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries, nil
}

// Stats reports global totals.
func (a *App) Stats(ctx context.Context) (domain.Totals, error) {
	return a.stats.Totals(ctx)
}

// Centers lists the recycling center directory.
func (a *App) Centers() ([]domain.RecyclingCenter, error) {
	centers, err := a.store.ListCenters()
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	if centers == nil {
		centers = []domain.RecyclingCenter{}
	}
	return centers, nil
}

// Directions describes how to reach a center.
type Directions struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Directions string   `json:"directions"`
	Transport  []string `json:"transport"`
	Landmarks  []string `json:"landmarks"`
	Phone      string   `json:"phone"`
}

// Directions returns directions to the center with the given id.
func (a *App) Directions(id int64) (Directions, error) {
	center, ok, err := a.store.GetCenter(id)
	if err != nil {
		return Directions{}, fmt.Errorf("get center: %w", err)
	}
	if !ok {
		return Directions{}, ErrNotFound
	}
	address := center.Address
	if address == "" {
		address = "the listed address"
	}
	return Directions{
		ID:         center.ID,
		Name:       center.Name,
		Directions: fmt.Sprintf("Head to %s.", address),
		Transport:  []string{},
		Landmarks:  []string{},
		Phone:      center.Phone,
	}, nil
}
