package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/markdave123-py/Structa/internal/logger"
)

// SchemaVersion is the version row initdb.sql writes into structa_meta.
const SchemaVersion = 1

//go:embed scripts/initdb.sql
var initSQL string

// EnsureBootstrapped creates the ledger schema unless the current version is
// already recorded.
func EnsureBootstrapped(ctx context.Context, db DBInterface) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRow(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'structa_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		return runBootstrap(ctxBoot, db)
	}

	var hasVersion bool
	if err := db.QueryRow(ctxBoot, `SELECT EXISTS (SELECT 1 FROM structa_meta WHERE version = $1)`, SchemaVersion).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, db)
	}

	logger.Debug("run ledger schema up to date", "version", SchemaVersion)
	return nil
}

func runBootstrap(ctx context.Context, db DBInterface) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, initSQL); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	logger.Info("run ledger schema created", "version", SchemaVersion)
	return nil
}
