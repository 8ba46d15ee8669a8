package app

import (
	"context"
	"fmt"

	"crewjob/internal/config"
	"crewjob/internal/db"
	"crewjob/internal/engine"
	"crewjob/internal/migrate"
)

// OpenEngine opens and migrates the reference store for workspace and seeds the job
// catalog. Callers close both the engine and the handle.
func OpenEngine(ctx context.Context, workspace string, cfg *config.Config) (engine.Engine, db.Handle, error) {
	conn, err := db.Open(db.Config{
		Workspace: workspace,
		Driver:    cfg.Server.Database.Driver,
		DSN:       cfg.Server.Database.DSN,
	})
	if err != nil {
		return engine.Engine{}, db.Handle{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, db.Handle{}, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Bootstrap(ctx); err != nil {
		e.Close()
		conn.Close()
		return engine.Engine{}, db.Handle{}, fmt.Errorf("seed jobs: %w", err)
	}
	return e, conn, nil
}
