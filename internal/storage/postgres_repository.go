package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"couchsync/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// rooms schema exists.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    thumbnail_url   TEXT NOT NULL DEFAULT '',
    source_type     TEXT NOT NULL,
    source_config   TEXT NOT NULL,
    last_file_index INTEGER NOT NULL DEFAULT 0,
    last_timestamp  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate rooms schema: %w", err)
	}
	return nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) CreateRoom(ctx context.Context, room models.Room) (models.Room, error) {
	if strings.TrimSpace(room.ID) == "" {
		id, err := newID()
		if err != nil {
			return models.Room{}, err
		}
		room.ID = id
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO rooms (id, name, thumbnail_url, source_type, source_config, last_file_index, last_timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at`,
		room.ID, room.Name, room.ThumbnailURL, string(room.SourceType),
		room.SourceConfig, room.LastFileIndex, room.LastTimestamp)
	if err := row.Scan(&room.CreatedAt, &room.UpdatedAt); err != nil {
		return models.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) GetRoom(ctx context.Context, id string) (models.Room, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, name, thumbnail_url, source_type, source_config, last_file_index, last_timestamp, created_at, updated_at
FROM rooms WHERE id = $1`, id)
	room, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("select room: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, name, thumbnail_url, source_type, source_config, last_file_index, last_timestamp, created_at, updated_at
FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (r *postgresRepository) UpdateRoomProgress(ctx context.Context, id string, timestamp float64, fileIndex int) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE rooms SET last_timestamp = $2, last_file_index = $3, updated_at = now()
WHERE id = $1`, id, timestamp, fileIndex)
	if err != nil {
		return fmt.Errorf("update room progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteRoom(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (models.Room, error) {
	var (
		room       models.Room
		sourceType string
	)
	err := row.Scan(&room.ID, &room.Name, &room.ThumbnailURL, &sourceType,
		&room.SourceConfig, &room.LastFileIndex, &room.LastTimestamp,
		&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return models.Room{}, err
	}
	room.SourceType = models.SourceType(sourceType)
	return room, nil
}
