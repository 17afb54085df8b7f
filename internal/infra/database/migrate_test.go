package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/kgtech-org/process-manager-sub004/migrations"
)

func TestMigrationURL(t *testing.T) {
	got := migrationURL("postgres://u:p@db:5432/pm?sslmode=disable")
	if want := "pgx5://u:p@db:5432/pm?sslmode=disable"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected paired migrations, got %d up and %d down", ups, downs)
	}
}

func TestInitialMigrationGuardsSingleOpenChallenge(t *testing.T) {
	raw, err := fs.ReadFile(migrations.FS, "000001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)
	for _, fragment := range []string{
		"ON auth.users (lower(email))",
		"WHERE consumed_at IS NULL AND superseded_at IS NULL",
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("expected migration to contain %q", fragment)
		}
	}
}
