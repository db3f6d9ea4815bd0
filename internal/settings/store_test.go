package settings

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE settings (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(setupTestDB(t))

	if _, found, err := s.Get(ctx, "accounts/a"); err != nil || found {
		t.Fatalf("Get() on empty store = found %v, err %v", found, err)
	}

	if err := s.Set(ctx, "accounts/a", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "accounts/a", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	got, found, err := s.Get(ctx, "accounts/a")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("Get() = %s, want overwritten value", got)
	}
}

func TestSQLiteStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(setupTestDB(t))

	for _, k := range []string{"accounts/b", "accounts/a", "other", "accounts_x"} {
		if err := s.Set(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}

	keys, err := s.List(ctx, "accounts/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"accounts/a", "accounts/b"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}

	if err := s.Delete(ctx, "accounts/a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "accounts/missing"); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
	if _, found, _ := s.Get(ctx, "accounts/a"); found {
		t.Error("key still present after Delete()")
	}
}

func TestSQLiteStore_EmptyKey(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(setupTestDB(t))

	if err := s.Set(ctx, "", []byte("x")); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Set(\"\") error = %v, want ErrEmptyKey", err)
	}
	if _, _, err := s.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Get(\"\") error = %v, want ErrEmptyKey", err)
	}
}
