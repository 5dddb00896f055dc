package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ecowise/pkg/domain"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	gormStore, err := NewGormStore("sqlite://" + filepath.Join(t.TempDir(), "ecowise.db"))
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = gormStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": gormStore,
	}
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := s.CreateUser("alice", "hash")
			if err != nil {
				t.Fatalf("create user: %v", err)
			}
			if first.ID <= 0 || first.CreatedAt.IsZero() {
				t.Fatalf("expected assigned id and created_at, got %+v", first)
			}
			if _, err := s.CreateUser("alice", "other"); !errors.Is(err, ErrDuplicateUsername) {
				t.Fatalf("expected duplicate error, got %v", err)
			}
			if _, err := s.CreateUser("Alice", "hash"); err != nil {
				t.Fatalf("usernames are case-sensitive, got %v", err)
			}
			got, ok, err := s.GetUserByUsername("alice")
			if err != nil || !ok {
				t.Fatalf("get user: ok=%v err=%v", ok, err)
			}
			if got.PasswordHash != "hash" {
				t.Fatalf("duplicate insert must not overwrite, got %q", got.PasswordHash)
			}
			byID, ok, err := s.GetUserByID(first.ID)
			if err != nil || !ok || byID.Username != "alice" {
				t.Fatalf("get by id: %+v ok=%v err=%v", byID, ok, err)
			}
			if _, ok, err := s.GetUserByUsername("nobody"); err != nil || ok {
				t.Fatalf("expected missing user, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestConcurrentCreateUserYieldsOneSuccess(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			const attempts = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.CreateUser("racer", "hash")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, ErrDuplicateUsername):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			if successes != 1 || conflicts != attempts-1 {
				t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
			}
		})
	}
}

func TestListUsersPagination(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, u := range []string{"alice", "bob", "carol", "malice", "50%_off"} {
				if _, err := s.CreateUser(u, "hash"); err != nil {
					t.Fatalf("create %s: %v", u, err)
				}
			}
			page, total, err := s.ListUsers(domain.UserQuery{Limit: 2, Offset: 1})
			if err != nil {
				t.Fatalf("list users: %v", err)
			}
			if total != 5 || len(page) != 2 || page[0].Username != "bob" || page[1].Username != "carol" {
				t.Fatalf("unexpected page total=%d users=%+v", total, page)
			}

			found, total, err := s.ListUsers(domain.UserQuery{Search: "ALIC"})
			if err != nil {
				t.Fatalf("search users: %v", err)
			}
			if total != 2 || len(found) != 2 || found[0].Username != "alice" || found[1].Username != "malice" {
				t.Fatalf("unexpected search result total=%d users=%+v", total, found)
			}

			literal, total, err := s.ListUsers(domain.UserQuery{Search: "%_"})
			if err != nil {
				t.Fatalf("search wildcard: %v", err)
			}
			if total != 1 || literal[0].Username != "50%_off" {
				t.Fatalf("wildcards must match literally, got total=%d users=%+v", total, literal)
			}

			empty, total, err := s.ListUsers(domain.UserQuery{Limit: 10, Offset: 50})
			if err != nil {
				t.Fatalf("list past end: %v", err)
			}
			if total != 5 || len(empty) != 0 {
				t.Fatalf("expected empty page, got %d users", len(empty))
			}

			all, err := s.AllUsers()
			if err != nil || len(all) != 5 {
				t.Fatalf("all users: %d err=%v", len(all), err)
			}
			count, err := s.UserCount()
			if err != nil || count != 5 {
				t.Fatalf("user count = %d err=%v", count, err)
			}
		})
	}
}

func TestListUsersSearchFoldsASCIIOnly(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, u := range []string{"Émile", "émile", "EMILY"} {
				if _, err := s.CreateUser(u, "hash"); err != nil {
					t.Fatalf("create %s: %v", u, err)
				}
			}
			cases := map[string][]string{
				"MIL":   {"Émile", "émile", "EMILY"},
				"Émi":   {"Émile"},
				"ÉMILE": {"Émile"},
				"émile": {"émile"},
			}
			for search, want := range cases {
				found, total, err := s.ListUsers(domain.UserQuery{Search: search})
				if err != nil {
					t.Fatalf("search %q: %v", search, err)
				}
				got := make([]string, 0, len(found))
				for _, u := range found {
					got = append(got, u.Username)
				}
				if total != int64(len(want)) || strings.Join(got, ",") != strings.Join(want, ",") {
					t.Fatalf("search %q = %v (total %d), want %v", search, got, total, want)
				}
			}
		})
	}
}

func TestHistoryNewestFirstAndLimit(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 4; i++ {
				_, err := s.AppendHistory(domain.HistoryEvent{
					Username:        "alice",
					Filename:        "item.jpg",
					ProcessedAt:     base.Add(time.Duration(i) * time.Minute),
					EcoPointsEarned: int64(i),
				})
				if err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			if _, err := s.AppendHistory(domain.HistoryEvent{Username: "bob", Filename: "x.jpg", ProcessedAt: base}); err != nil {
				t.Fatalf("append bob: %v", err)
			}

			items, err := s.ListHistory("alice", 3)
			if err != nil {
				t.Fatalf("list history: %v", err)
			}
			if len(items) != 3 {
				t.Fatalf("expected 3 items, got %d", len(items))
			}
			for i, want := range []int64{3, 2, 1} {
				if items[i].EcoPointsEarned != want {
					t.Fatalf("item %d points = %d, want %d", i, items[i].EcoPointsEarned, want)
				}
			}
			all, err := s.ListHistory("alice", 0)
			if err != nil || len(all) != 4 {
				t.Fatalf("expected full history, got %d err=%v", len(all), err)
			}
			none, err := s.ListHistory("nobody", 10)
			if err != nil || len(none) != 0 {
				t.Fatalf("expected empty history, got %d err=%v", len(none), err)
			}
		})
	}
}

func TestAppendHistoryKeepsDetections(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			detections := json.RawMessage(`[{"name":"plastic_bottle","points":10}]`)
			id, err := s.AppendHistory(domain.HistoryEvent{
				Username:   "alice",
				Filename:   "bottle.jpg",
				StoredPath: "abc_bottle.jpg",
				Detections: detections,
			})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			items, err := s.ListHistory("alice", 1)
			if err != nil || len(items) != 1 {
				t.Fatalf("list: %d err=%v", len(items), err)
			}
			got := items[0]
			if got.ID != id || got.StoredPath != "abc_bottle.jpg" || got.ProcessedAt.IsZero() {
				t.Fatalf("unexpected event %+v", got)
			}
			var decoded []map[string]any
			if err := json.Unmarshal(got.Detections, &decoded); err != nil || len(decoded) != 1 {
				t.Fatalf("detections not preserved: %s err=%v", got.Detections, err)
			}
		})
	}
}

func TestSumHistoryAndSumByUser(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			zero, err := s.SumHistory("alice")
			if err != nil {
				t.Fatalf("sum empty: %v", err)
			}
			if zero != (domain.Summary{}) {
				t.Fatalf("expected zero summary, got %+v", zero)
			}
			events := []domain.HistoryEvent{
				{Username: "alice", Filename: "a", EcoPointsEarned: 10, ItemsRecycled: 1, CarbonSavedKg: 0.5},
				{Username: "alice", Filename: "b", EcoPointsEarned: 5, ItemsRecycled: 2, CarbonSavedKg: 0.25},
				{Username: "bob", Filename: "c", EcoPointsEarned: 30, ItemsRecycled: 1, CarbonSavedKg: 1},
				{Username: "carol", Filename: "d", EcoPointsEarned: 15, ItemsRecycled: 3},
			}
			for _, e := range events {
				if _, err := s.AppendHistory(e); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			sum, err := s.SumHistory("alice")
			if err != nil {
				t.Fatalf("sum: %v", err)
			}
			if sum.EcoPoints != 15 || sum.ItemsRecycled != 3 || sum.CarbonSavedKg != 0.75 {
				t.Fatalf("unexpected summary %+v", sum)
			}

			board, err := s.SumByUser(2)
			if err != nil {
				t.Fatalf("sum by user: %v", err)
			}
			if len(board) != 2 || board[0].Username != "bob" || board[0].EcoPoints != 30 {
				t.Fatalf("unexpected leaderboard %+v", board)
			}
			if board[1].EcoPoints != 15 {
				t.Fatalf("unexpected second entry %+v", board[1])
			}

			total, err := s.TotalPoints()
			if err != nil || total != 60 {
				t.Fatalf("total points = %d err=%v", total, err)
			}
		})
	}
}

func TestCentersAreSeeded(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			centers, err := s.ListCenters()
			if err != nil {
				t.Fatalf("list centers: %v", err)
			}
			if len(centers) != 2 || centers[0].ID != 1 {
				t.Fatalf("unexpected centers %+v", centers)
			}
			if len(centers[0].Services) != 4 || centers[0].Services[0] != "Plastic" {
				t.Fatalf("services not preserved: %+v", centers[0].Services)
			}
			c, ok, err := s.GetCenter(2)
			if err != nil || !ok || c.Name != "Community Donation Center" {
				t.Fatalf("get center: %+v ok=%v err=%v", c, ok, err)
			}
			if _, ok, err := s.GetCenter(99); err != nil || ok {
				t.Fatalf("expected missing center, ok=%v err=%v", ok, err)
			}
			count, err := s.CenterCount()
			if err != nil || count != 2 {
				t.Fatalf("center count = %d err=%v", count, err)
			}
		})
	}
}

func TestNewGormStoreReopenDoesNotReseed(t *testing.T) {
	path := "sqlite://" + filepath.Join(t.TempDir(), "reopen.db")
	first, err := NewGormStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = first.Close()
	second, err := NewGormStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	count, err := second.CenterCount()
	if err != nil || count != 2 {
		t.Fatalf("center count after reopen = %d err=%v", count, err)
	}
}

func TestNewGormStoreRequiresDSN(t *testing.T) {
	if _, err := NewGormStore(" "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
