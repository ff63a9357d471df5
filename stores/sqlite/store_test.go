package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"retouch-complete/core"
)

func setupTestDB(t *testing.T) *sqliteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	return NewStore(dbPath)
}

func TestNewStore_TablesCreated(t *testing.T) {
	store := setupTestDB(t)

	var tableName string
	err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='users'").Scan(&tableName)
	if err != nil {
		t.Fatalf("users table not created: %v", err)
	}

	err = store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='edit_results'").Scan(&tableName)
	if err != nil {
		t.Fatalf("edit_results table not created: %v", err)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	user := &core.User{ID: "u1", Email: "alice@example.com", PasswordDigest: []byte("digest"), CreatedAt: time.Now()}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}

	dup := &core.User{ID: "u2", Email: "alice@example.com", PasswordDigest: []byte("other"), CreatedAt: time.Now()}
	if err := store.CreateUser(ctx, dup); !errors.Is(err, core.ErrEmailTaken) {
		t.Fatalf("CreateUser() duplicate email: got %v, want ErrEmailTaken", err)
	}

	got, err := store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() failed: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, "u1")
	}
	if string(got.PasswordDigest) != "digest" {
		t.Errorf("PasswordDigest mismatch: got %q", got.PasswordDigest)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, err := store.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("GetUserByEmail() got %v, want ErrUserNotFound", err)
	}
	if _, err := store.GetUserByID(ctx, "nobody"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("GetUserByID() got %v, want ErrUserNotFound", err)
	}
}

func TestSaveAndGet_RoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	result := &core.EditResult{
		ID:      "e1",
		UserID:  "alice",
		Prompt:  "replace the sky",
		History: []string{"add a hat", "replace the sky"},
		Image:   []byte{0x89, 'P', 'N', 'G'},
	}
	if err := store.Save(ctx, result); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := store.Get(ctx, "alice", "e1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Prompt != result.Prompt {
		t.Errorf("Prompt mismatch: got %q, want %q", got.Prompt, result.Prompt)
	}
	if !reflect.DeepEqual(got.History, result.History) {
		t.Errorf("History mismatch: got %v, want %v", got.History, result.History)
	}
	if !reflect.DeepEqual(got.Image, result.Image) {
		t.Errorf("Image mismatch: got %v, want %v", got.Image, result.Image)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on save")
	}
}

func TestSave_UpdateExisting(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first := &core.EditResult{ID: "e1", UserID: "alice", Prompt: "v1", History: []string{"v1"}}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	created, _ := store.Get(ctx, "alice", "e1")

	time.Sleep(10 * time.Millisecond)

	second := &core.EditResult{ID: "e1", UserID: "alice", Prompt: "v2", History: []string{"v1", "v2"}}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save() update failed: %v", err)
	}

	got, err := store.Get(ctx, "alice", "e1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Prompt != "v2" {
		t.Errorf("Prompt not updated: got %q", got.Prompt)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed on update: got %v, want %v", got.CreatedAt, created.CreatedAt)
	}
	if !got.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt not advanced: got %v, was %v", got.UpdatedAt, created.UpdatedAt)
	}

	// The update must not create a second row.
	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("row count mismatch after update: got %d, want 1", len(list))
	}
}

func TestList_ScopedToUser(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i, user := range []string{"alice", "alice", "bob"} {
		result := &core.EditResult{ID: "e" + string(rune('1'+i)), UserID: user, Prompt: "p"}
		if err := store.Save(ctx, result); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	aliceList, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(aliceList) != 2 {
		t.Errorf("alice list count: got %d, want 2", len(aliceList))
	}

	bobList, err := store.List(ctx, "bob")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(bobList) != 1 {
		t.Errorf("bob list count: got %d, want 1", len(bobList))
	}

	if _, err := store.Get(ctx, "bob", "e1"); !errors.Is(err, core.ErrEditNotFound) {
		t.Errorf("Get() across users: got %v, want ErrEditNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	result := &core.EditResult{ID: "e1", UserID: "alice", Prompt: "p"}
	if err := store.Save(ctx, result); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := store.Delete(ctx, "alice", "e1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "alice", "e1"); !errors.Is(err, core.ErrEditNotFound) {
		t.Errorf("Get() after delete: got %v, want ErrEditNotFound", err)
	}
}

func TestDatabasePersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	store1 := NewStore(dbPath)
	result := &core.EditResult{ID: "e1", UserID: "alice", Prompt: "persistent", History: []string{"persistent"}}
	if err := store1.Save(ctx, result); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	store1.db.Close()

	store2 := NewStore(dbPath)
	got, err := store2.Get(ctx, "alice", "e1")
	if err != nil {
		t.Fatalf("Get() failed with new store: %v", err)
	}
	if got.Prompt != "persistent" {
		t.Error("data not persisted across store instances")
	}
	store2.db.Close()
}

func TestConcurrentSaves(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// Single connection avoids SQLITE_BUSY between parallel writers.
	store.db.SetMaxOpenConns(1)

	numWorkers := 10
	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			result := &core.EditResult{
				ID:     "e" + string(rune('0'+index)),
				UserID: "alice",
				Prompt: "concurrent",
			}
			if err := store.Save(ctx, result); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent save failed: %v", err)
	}

	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != numWorkers {
		t.Errorf("result count mismatch: got %d, want %d", len(list), numWorkers)
	}
}
