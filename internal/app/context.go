package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"proact/internal/config"
	"proact/internal/db"
	"proact/internal/migrate"
	"proact/internal/repo"
)

// Workspace is an opened, migrated workspace with its config.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
}

// OpenWorkspace loads proact.yml (defaults when absent), opens the database
// and applies pending migrations.
func OpenWorkspace(ctx context.Context, dir string) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Dir: dir, DB: conn, Config: cfg}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// ResolveSession picks the session to work in: the override when given,
// otherwise the only session in the workspace.
func ResolveSession(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		if _, err := r.GetSession(ctx, override); err != nil {
			return "", err
		}
		return override, nil
	}
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	switch len(sessions) {
	case 0:
		return "", errors.New("no session yet; create one with proact session create")
	case 1:
		return sessions[0].ID, nil
	}
	return "", errors.New("multiple sessions exist; specify --session")
}
