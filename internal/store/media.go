package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jjudge-oj/mediastore/types"
)

// MediaRepository handles persistence for media file metadata.
type MediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

const mediaColumns = `id, name, path, size, content_type, bucket, created_at`

func scanMedia(row interface{ Scan(...any) error }) (types.MediaFile, error) {
	var file types.MediaFile
	err := row.Scan(
		&file.ID,
		&file.Name,
		&file.Path,
		&file.Size,
		&file.ContentType,
		&file.Bucket,
		&file.CreatedAt,
	)
	return file, err
}

func (r *MediaRepository) List(ctx context.Context, offset, limit int) ([]types.MediaFile, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM media_files`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT ` + mediaColumns + `
		FROM media_files
		ORDER BY id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	files := make([]types.MediaFile, 0, limit)
	for rows.Next() {
		file, err := scanMedia(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return files, total, nil
}

func (r *MediaRepository) Get(ctx context.Context, id int64) (types.MediaFile, error) {
	const query = `SELECT ` + mediaColumns + ` FROM media_files WHERE id = $1`
	file, err := scanMedia(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MediaFile{}, ErrNotFound
		}
		return types.MediaFile{}, err
	}
	return file, nil
}

func (r *MediaRepository) GetByPath(ctx context.Context, path string) (types.MediaFile, error) {
	const query = `SELECT ` + mediaColumns + ` FROM media_files WHERE path = $1`
	file, err := scanMedia(r.db.QueryRowContext(ctx, query, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MediaFile{}, ErrNotFound
		}
		return types.MediaFile{}, err
	}
	return file, nil
}

// Create inserts file. Storing to an existing path overwrites the object, so
// the row for that path is replaced as well.
func (r *MediaRepository) Create(ctx context.Context, file types.MediaFile) (types.MediaFile, error) {
	file.CreatedAt = time.Now()

	const query = `
		INSERT INTO media_files (name, path, size, content_type, bucket, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (path) DO UPDATE
		SET name = EXCLUDED.name,
			size = EXCLUDED.size,
			content_type = EXCLUDED.content_type,
			bucket = EXCLUDED.bucket,
			created_at = EXCLUDED.created_at
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		file.Name,
		file.Path,
		file.Size,
		file.ContentType,
		file.Bucket,
		file.CreatedAt,
	).Scan(&file.ID); err != nil {
		return types.MediaFile{}, err
	}

	return file, nil
}

func (r *MediaRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM media_files WHERE id = $1`
	return r.execDelete(ctx, query, id)
}

func (r *MediaRepository) DeleteByPath(ctx context.Context, path string) error {
	const query = `DELETE FROM media_files WHERE path = $1`
	return r.execDelete(ctx, query, path)
}

func (r *MediaRepository) execDelete(ctx context.Context, query string, arg any) error {
	result, err := r.db.ExecContext(ctx, query, arg)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
