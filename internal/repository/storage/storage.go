package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rashedsumon/instagram-teaser/internal/entities"
)

var ErrNotFound = errors.New("teaser not found")

type dbStorage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*dbStorage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &dbStorage{dbpool: pool}, nil
}

func (s *dbStorage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

func (s *dbStorage) Close() {
	s.dbpool.Close()
}

func (s *dbStorage) InsertTeaser(ctx context.Context, t entities.Teaser) (entities.Teaser, error) {
	row := s.dbpool.QueryRow(ctx, `
		INSERT INTO teasers (
			id, script, overlay_text, brand_color, font_size,
			duration_seconds, fps, mode, frame_keys, music_key, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_timestamp, updated_timestamp`,
		t.ID, t.Script, t.OverlayText, t.BrandColor, t.FontSize,
		t.DurationSeconds, t.FPS, t.Mode, t.FrameKeys, t.MusicKey, t.Status,
	)
	if err := row.Scan(&t.CreatedTimestamp, &t.UpdatedTimestamp); err != nil {
		return entities.Teaser{}, fmt.Errorf("insert teaser: %w", err)
	}
	return t, nil
}

func (s *dbStorage) GetTeaser(ctx context.Context, id string) (entities.Teaser, error) {
	var t entities.Teaser
	row := s.dbpool.QueryRow(ctx, `
		SELECT id, script, overlay_text, brand_color, font_size,
		       duration_seconds, fps, mode, frame_keys, music_key,
		       status, progress, output_key, error,
		       created_timestamp, updated_timestamp
		FROM teasers
		WHERE id = $1`, id,
	)
	err := row.Scan(
		&t.ID, &t.Script, &t.OverlayText, &t.BrandColor, &t.FontSize,
		&t.DurationSeconds, &t.FPS, &t.Mode, &t.FrameKeys, &t.MusicKey,
		&t.Status, &t.Progress, &t.OutputKey, &t.Error,
		&t.CreatedTimestamp, &t.UpdatedTimestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.Teaser{}, ErrNotFound
	}
	if err != nil {
		return entities.Teaser{}, fmt.Errorf("get teaser %s: %w", id, err)
	}
	return t, nil
}

func (s *dbStorage) MarkRendering(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, `
		UPDATE teasers
		SET status = 'rendering', progress = 0, error = NULL, updated_timestamp = now()
		WHERE id = $1`)
}

func (s *dbStorage) SetProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	// Progress updates race MarkReady; a zero-row update here is fine.
	_, err := s.dbpool.Exec(ctx, `
		UPDATE teasers
		SET progress = GREATEST(progress, $2), updated_timestamp = now()
		WHERE id = $1 AND status = 'rendering'`, id, progress)
	if err != nil {
		return fmt.Errorf("set progress %s: %w", id, err)
	}
	return nil
}

func (s *dbStorage) MarkReady(ctx context.Context, id, outputKey string) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE teasers
		SET status = 'ready', progress = 100, output_key = $2, error = NULL, updated_timestamp = now()
		WHERE id = $1`, id, outputKey)
	if err != nil {
		return fmt.Errorf("mark ready %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *dbStorage) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE teasers
		SET status = 'failed', error = $2, updated_timestamp = now()
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *dbStorage) ListRecent(ctx context.Context, limit int) ([]entities.Teaser, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.dbpool.Query(ctx, `
		SELECT id, script, overlay_text, brand_color, font_size,
		       duration_seconds, fps, mode, frame_keys, music_key,
		       status, progress, output_key, error,
		       created_timestamp, updated_timestamp
		FROM teasers
		ORDER BY created_timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list teasers: %w", err)
	}
	defer rows.Close()

	var out []entities.Teaser
	for rows.Next() {
		var t entities.Teaser
		err := rows.Scan(
			&t.ID, &t.Script, &t.OverlayText, &t.BrandColor, &t.FontSize,
			&t.DurationSeconds, &t.FPS, &t.Mode, &t.FrameKeys, &t.MusicKey,
			&t.Status, &t.Progress, &t.OutputKey, &t.Error,
			&t.CreatedTimestamp, &t.UpdatedTimestamp,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *dbStorage) setStatus(ctx context.Context, id, query string) error {
	tag, err := s.dbpool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("update teaser %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
