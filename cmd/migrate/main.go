package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/database"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, steps, version, force")
		steps   = flag.Int("steps", 0, "Number of steps for the steps command (negative rolls back)")
		version = flag.Int("version", -1, "Target version for the force command")
		dir     = flag.String("dir", "", "Read migrations from this directory instead of the embedded set")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() {
		_ = zl.Sync()
	}()

	source := *dir
	if source == "" {
		source = cfg.App.MigrationsPath
	}

	migrator, err := database.NewMigrator(cfg.Postgres, source, zl)
	if err != nil {
		log.Fatalf("failed to init migrator: %v", err)
	}
	defer func() {
		_ = migrator.Close()
	}()

	if err := run(migrator, *command, *steps, *version); err != nil {
		log.Printf("migration %s failed: %v", *command, err)
		os.Exit(1)
	}
}

func run(m *database.Migrator, command string, steps, version int) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps":
		if steps == 0 {
			return fmt.Errorf("steps command requires a non-zero -steps value")
		}
		return m.Steps(steps)
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
		return nil
	case "force":
		if version < 0 {
			return fmt.Errorf("force command requires -version")
		}
		return m.Force(version)
	default:
		return fmt.Errorf("unknown command %q (supported: up, down, steps, version, force)", command)
	}
}
