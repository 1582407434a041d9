package main

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/config"
	"github.com/hackgods/frontdesk-scheduling/internal/db"
	"github.com/hackgods/frontdesk-scheduling/internal/logging"
)

const usage = `usage: migrate [up | down <steps> | force <version> | version]`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	m, err := db.NewMigrator(cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("create migrator", zap.Error(err))
	}
	defer func() { _ = m.Close() }()

	if err := run(m, os.Args[1:]); err != nil {
		_ = m.Close()
		log.Fatal("migrate failed", zap.Error(err))
	}
}

func run(m *db.Migrator, args []string) error {
	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "up":
		return m.Up()
	case "down":
		steps, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Down(steps)
	case "force":
		version, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Force(version)
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing argument\n%s", usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[1], err)
	}
	return n, nil
}
