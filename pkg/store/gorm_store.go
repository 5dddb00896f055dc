package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"ecowise/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51937713

const sqlitePrefix = "sqlite://"

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations and seeds recycling centers.
// DSNs starting with "sqlite://" open a SQLite file; anything else is a Postgres DSN.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(openDialector(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	}
	return postgres.Open(dsn)
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&UserModel{}, &HistoryModel{}, &CenterModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	var count int64
	if err := tx.Model(&CenterModel{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count centers: %w", err)
	}
	if count > 0 {
		return nil
	}
	seed := DefaultCenters()
	models := make([]CenterModel, 0, len(seed))
	for _, c := range seed {
		models = append(models, centerToModel(c))
	}
	if err := tx.Create(&models).Error; err != nil {
		return fmt.Errorf("seed centers: %w", err)
	}
	return nil
}

// withMigrationLock serializes migrations across replicas. Only Postgres has
// advisory locks; SQLite is single-writer anyway.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user; the unique index on username decides races.
func (s *GormStore) CreateUser(username, passwordHash string) (domain.User, error) {
	model := UserModel{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, ErrDuplicateUsername
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByUsername looks up a user by exact username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns one page of users ordered by id plus the total match count.
func (s *GormStore) ListUsers(q domain.UserQuery) ([]domain.User, int64, error) {
	search := strings.TrimSpace(q.Search)
	filtered := func() *gorm.DB {
		tx := s.db.Model(&UserModel{})
		if search != "" {
			tx = tx.Where(s.foldedUsername()+` LIKE ? ESCAPE '\'`, "%"+escapeLike(foldASCII(search))+"%")
		}
		return tx
	}
	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []UserModel
	page := filtered().Order("id ASC").Offset(q.Offset)
	if q.Limit > 0 {
		page = page.Limit(q.Limit)
	}
	if err := page.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return usersFromModels(models), total, nil
}

// AllUsers returns every user ordered by id.
func (s *GormStore) AllUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int64, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AppendHistory records one event and returns its id.
func (s *GormStore) AppendHistory(e domain.HistoryEvent) (int64, error) {
	model := historyToModel(e)
	if model.ProcessedAt.IsZero() {
		model.ProcessedAt = time.Now().UTC()
	}
	if err := s.db.Create(&model).Error; err != nil {
		return 0, err
	}
	return model.ID, nil
}

// ListHistory returns the user's events newest first.
func (s *GormStore) ListHistory(username string, limit int) ([]domain.HistoryEvent, error) {
	var models []HistoryModel
	tx := s.db.Where("username = ?", username).
		Order("processed_at DESC").
		Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.HistoryEvent, 0, len(models))
	for _, m := range models {
		items = append(items, historyFromModel(m))
	}
	return items, nil
}

type sumRow struct {
	Username      string
	EcoPoints     int64
	ItemsRecycled int64
	CarbonSavedKg float64
}

const sumColumns = "CAST(COALESCE(SUM(eco_points_earned), 0) AS BIGINT) AS eco_points, " +
	"CAST(COALESCE(SUM(items_recycled), 0) AS BIGINT) AS items_recycled, " +
	"COALESCE(SUM(carbon_saved_kg), 0) AS carbon_saved_kg"

// SumHistory sums all events of one user.
func (s *GormStore) SumHistory(username string) (domain.Summary, error) {
	var row sumRow
	if err := s.db.Model(&HistoryModel{}).
		Select(sumColumns).
		Where("username = ?", username).
		Scan(&row).Error; err != nil {
		return domain.Summary{}, err
	}
	return row.summary(), nil
}

// SumByUser groups events per username, highest eco points first.
func (s *GormStore) SumByUser(limit int) ([]domain.LeaderboardEntry, error) {
	var rows []sumRow
	tx := s.db.Model(&HistoryModel{}).
		Select("username, " + sumColumns).
		Group("username").
		Order("eco_points DESC").
		Order("username ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.LeaderboardEntry{Username: row.Username, Summary: row.summary()})
	}
	return entries, nil
}

// TotalPoints sums eco points over the whole log.
func (s *GormStore) TotalPoints() (int64, error) {
	var total int64
	if err := s.db.Model(&HistoryModel{}).
		Select("CAST(COALESCE(SUM(eco_points_earned), 0) AS BIGINT)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// ListCenters returns all recycling centers ordered by id.
func (s *GormStore) ListCenters() ([]domain.RecyclingCenter, error) {
	var models []CenterModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.RecyclingCenter, 0, len(models))
	for _, m := range models {
		items = append(items, centerFromModel(m))
	}
	return items, nil
}

// GetCenter returns one recycling center.
func (s *GormStore) GetCenter(id int64) (domain.RecyclingCenter, bool, error) {
	var model CenterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecyclingCenter{}, false, nil
		}
		return domain.RecyclingCenter{}, false, err
	}
	return centerFromModel(model), true, nil
}

// CenterCount returns number of recycling centers.
func (s *GormStore) CenterCount() (int64, error) {
	var count int64
	if err := s.db.Model(&CenterModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r sumRow) summary() domain.Summary {
	return domain.Summary{
		EcoPoints:     r.EcoPoints,
		ItemsRecycled: r.ItemsRecycled,
		CarbonSavedKg: r.CarbonSavedKg,
	}
}

// foldedUsername matches foldASCII in SQL. SQLite's LOWER is ASCII-only;
// Postgres LOWER folds all of Unicode, so it gets TRANSLATE instead.
func (s *GormStore) foldedUsername() string {
	if s.db.Dialector.Name() == "postgres" {
		return "TRANSLATE(username, 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz')"
	}
	return "LOWER(username)"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func usersFromModels(models []UserModel) []domain.User {
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res
}

func historyToModel(e domain.HistoryEvent) HistoryModel {
	var detections datatypes.JSON
	if len(e.Detections) > 0 {
		detections = datatypes.JSON(e.Detections)
	}
	return HistoryModel{
		ID:              e.ID,
		Username:        e.Username,
		Filename:        e.Filename,
		ProcessedAt:     e.ProcessedAt.UTC(),
		EcoPointsEarned: e.EcoPointsEarned,
		ItemsRecycled:   e.ItemsRecycled,
		CarbonSavedKg:   e.CarbonSavedKg,
		StoredPath:      e.StoredPath,
		Detections:      detections,
	}
}

func historyFromModel(m HistoryModel) domain.HistoryEvent {
	var detections json.RawMessage
	if len(m.Detections) > 0 {
		detections = json.RawMessage(m.Detections)
	}
	return domain.HistoryEvent{
		ID:              m.ID,
		Username:        m.Username,
		Filename:        m.Filename,
		ProcessedAt:     m.ProcessedAt.UTC(),
		EcoPointsEarned: m.EcoPointsEarned,
		ItemsRecycled:   m.ItemsRecycled,
		CarbonSavedKg:   m.CarbonSavedKg,
		StoredPath:      m.StoredPath,
		Detections:      detections,
	}
}

func centerToModel(c domain.RecyclingCenter) CenterModel {
	services, _ := json.Marshal(c.Services)
	return CenterModel{
		ID:       c.ID,
		Name:     c.Name,
		Type:     c.Type,
		Address:  c.Address,
		Lat:      c.Lat,
		Lng:      c.Lng,
		Hours:    c.Hours,
		Rating:   c.Rating,
		Services: datatypes.JSON(services),
		Distance: c.Distance,
		Phone:    c.Phone,
		Website:  c.Website,
	}
}

func centerFromModel(m CenterModel) domain.RecyclingCenter {
	services := []string{}
	if len(m.Services) > 0 {
		_ = json.Unmarshal(m.Services, &services)
	}
	return domain.RecyclingCenter{
		ID:       m.ID,
		Name:     m.Name,
		Type:     m.Type,
		Address:  m.Address,
		Lat:      m.Lat,
		Lng:      m.Lng,
		Hours:    m.Hours,
		Rating:   m.Rating,
		Services: services,
		Distance: m.Distance,
		Phone:    m.Phone,
		Website:  m.Website,
	}
}
