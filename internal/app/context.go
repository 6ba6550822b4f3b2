// Package app opens a folio workspace: config, database, schema and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"portfolioshare/internal/config"
	"portfolioshare/internal/db"
	"portfolioshare/internal/engine"
	"portfolioshare/internal/migrate"
	"portfolioshare/internal/storage"
)

type Options struct {
	Workspace string
	// Config overrides folio.yml when set.
	Config *config.Config
	Logger *zap.Logger
}

// Workspace is an opened workspace. Close releases the database.
type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
	Log    *zap.Logger
}

// Open loads the workspace config (defaults when folio.yml is absent),
// migrates the database and builds an engine. Evidence uploads are presigned
// against the configured bucket when one is set.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	before, err := migrate.Version(ctx, conn)
	if err != nil {
		// A fresh database has no schema_version table yet.
		before = 0
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if version != before {
		log.Info("schema migrated", zap.Int("from", before), zap.Int("to", version))
	}
	log.Debug("database ready", zap.String("path", db.Path(opts.Workspace)), zap.Int("schema", version))

	e := engine.New(conn, cfg)
	e.Log = log
	if cfg.Storage.S3.Enabled() {
		s3, err := storage.NewS3(ctx, cfg.Storage.S3)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		e.Presigner = s3
	}
	return &Workspace{Dir: opts.Workspace, Config: cfg, DB: conn, Engine: e, Log: log}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
