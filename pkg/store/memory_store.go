package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"ecowise/pkg/domain"
)

// MemoryStore keeps users and history in-process. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	users    []domain.User
	byName   map[string]int // username -> index in users
	history  []domain.HistoryEvent
	centers  []domain.RecyclingCenter
	nextUser int64
	nextHist int64
}

// NewMemoryStore initializes an empty store seeded with the default centers.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byName:  make(map[string]int),
		centers: DefaultCenters(),
	}
}

// CreateUser registers a user; the write lock makes the uniqueness check atomic.
func (m *MemoryStore) CreateUser(username, passwordHash string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[username]; exists {
		return domain.User{}, ErrDuplicateUsername
	}
	m.nextUser++
	u := domain.User{
		ID:           m.nextUser,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.byName[username] = len(m.users)
	m.users = append(m.users, u)
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byName[username]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[idx], true, nil
}

func (m *MemoryStore) GetUserByID(id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) ListUsers(q domain.UserQuery) ([]domain.User, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := foldASCII(strings.TrimSpace(q.Search))
	matched := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if search != "" && !strings.Contains(foldASCII(u.Username), search) {
			continue
		}
		matched = append(matched, u)
	}
	total := int64(len(matched))
	if q.Offset >= len(matched) {
		return []domain.User{}, total, nil
	}
	if q.Offset > 0 {
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) AllUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, len(m.users))
	copy(res, m.users)
	return res, nil
}

func (m *MemoryStore) UserCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

func (m *MemoryStore) AppendHistory(e domain.HistoryEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHist++
	e.ID = m.nextHist
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	m.history = append(m.history, e)
	return e.ID, nil
}

func (m *MemoryStore) ListHistory(username string, limit int) ([]domain.HistoryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.HistoryEvent, 0)
	for _, e := range m.history {
		if e.Username == username {
			items = append(items, e)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].ProcessedAt.Equal(items[j].ProcessedAt) {
			return items[i].ProcessedAt.After(items[j].ProcessedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) SumHistory(username string) (domain.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum domain.Summary
	for _, e := range m.history {
		if e.Username == username {
			addEvent(&sum, e)
		}
	}
	return sum, nil
}

func (m *MemoryStore) SumByUser(limit int) ([]domain.LeaderboardEntry, error) {
	m.mu.RLock()
	sums := make(map[string]*domain.Summary)
	for _, e := range m.history {
		s, ok := sums[e.Username]
		if !ok {
			s = &domain.Summary{}
			sums[e.Username] = s
		}
		addEvent(s, e)
	}
	m.mu.RUnlock()

	entries := make([]domain.LeaderboardEntry, 0, len(sums))
	for username, s := range sums {
		entries = append(entries, domain.LeaderboardEntry{Username: username, Summary: *s})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EcoPoints != entries[j].EcoPoints {
			return entries[i].EcoPoints > entries[j].EcoPoints
		}
		return entries[i].Username < entries[j].Username
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) TotalPoints() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.history {
		total += e.EcoPointsEarned
	}
	return total, nil
}

func (m *MemoryStore) ListCenters() ([]domain.RecyclingCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.RecyclingCenter, len(m.centers))
	copy(res, m.centers)
	return res, nil
}

func (m *MemoryStore) GetCenter(id int64) (domain.RecyclingCenter, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.centers {
		if c.ID == id {
			return c, true, nil
		}
	}
	return domain.RecyclingCenter{}, false, nil
}

func (m *MemoryStore) CenterCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.centers)), nil
}

func addEvent(sum *domain.Summary, e domain.HistoryEvent) {
	sum.EcoPoints += e.EcoPointsEarned
	sum.ItemsRecycled += e.ItemsRecycled
	sum.CarbonSavedKg += e.CarbonSavedKg
}
