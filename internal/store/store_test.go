package store

import (
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/google/uuid"
)

func TestPrepare(t *testing.T) {
	rec := Prepare(Record{ChatID: "c"})
	if rec.ID == uuid.Nil || rec.ID.Version() != 7 {
		t.Errorf("ID = %v, want a v7 uuid", rec.ID)
	}
	if rec.At.IsZero() {
		t.Error("At not set")
	}

	fixed := uuid.New()
	if got := Prepare(Record{ID: fixed}); got.ID != fixed {
		t.Errorf("Prepare() replaced an explicit id")
	}
}

func TestReverse(t *testing.T) {
	s := []int{1, 2, 3, 4}
	Reverse(s)
	for i, want := range []int{4, 3, 2, 1} {
		if s[i] != want {
			t.Fatalf("Reverse() = %v", s)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			files, err := fs.Glob(migrationsFS, "migrations/"+driver+"/*.up.sql")
			if err != nil || len(files) == 0 {
				t.Fatalf("no up migrations for %s: %v", driver, err)
			}
		})
	}
}

func TestNewMigratorUnknownDriver(t *testing.T) {
	_, err := NewMigrator((*sql.DB)(nil), "mysql")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("NewMigrator() error = %v, want ErrUnknownDriver", err)
	}
}
