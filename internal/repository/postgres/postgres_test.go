package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"foreign key violation", &pq.Error{Code: "23503"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	up, err := fs.ReadFile(migrationFS, "migrations/000001_create_tracking_tables.up.sql")
	if err != nil {
		t.Fatalf("read up migration: %v", err)
	}
	if !strings.Contains(string(up), "WHERE end_time IS NULL") {
		t.Error("up migration must guard open timelines with a partial unique index")
	}
	if _, err := fs.ReadFile(migrationFS, "migrations/000001_create_tracking_tables.down.sql"); err != nil {
		t.Fatalf("read down migration: %v", err)
	}
}

func TestRunMigrationsRequiresDSN(t *testing.T) {
	if err := RunMigrations(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
