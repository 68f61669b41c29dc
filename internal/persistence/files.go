package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Extraction status values recorded for uploaded files. The stored
// status decides how the file is rendered into model context later.
const (
	ExtractionSuccess  = "success"
	ExtractionFailed   = "failed"
	ExtractionTooLarge = "too_large"
)

// File is the metadata and extracted text for one uploaded file.
type File struct {
	ID               string
	UserID           string
	OriginalName     string
	StoredPath       string
	SizeBytes        int64
	Extension        string
	ExtractedText    string
	ExtractionStatus string
	CreatedAt        time.Time
}

// InsertFile records an upload and returns it with its generated id.
func (s *Store) InsertFile(ctx context.Context, f File) (*File, error) {
	switch f.ExtractionStatus {
	case ExtractionSuccess, ExtractionFailed, ExtractionTooLarge:
	default:
		return nil, fmt.Errorf("invalid extraction status %q", f.ExtractionStatus)
	}
	f.ID = uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO files (id, user_id, original_name, stored_path, size_bytes, extension, extracted_text, extraction_status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, f.ID, f.UserID, f.OriginalName, f.StoredPath, f.SizeBytes, f.Extension, f.ExtractedText, f.ExtractionStatus)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return s.GetFile(ctx, f.ID, f.UserID)
}

// GetFile returns one file owned by userID. A file that exists but
// belongs to someone else is reported as ErrNotFound, same as a file
// that does not exist.
func (s *Store) GetFile(ctx context.Context, fileID, userID string) (*File, error) {
	var f File
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, original_name, stored_path, size_bytes, extension, extracted_text, extraction_status, created_at
		FROM files
		WHERE id = ? AND user_id = ?;
	`, fileID, userID).Scan(&f.ID, &f.UserID, &f.OriginalName, &f.StoredPath, &f.SizeBytes, &f.Extension, &f.ExtractedText, &f.ExtractionStatus, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file: %w", err)
	}
	return &f, nil
}

// ListFiles returns the user's files, newest first.
func (s *Store) ListFiles(ctx context.Context, userID string, limit int) ([]*File, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, original_name, stored_path, size_bytes, extension, extracted_text, extraction_status, created_at
		FROM files
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?;
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.UserID, &f.OriginalName, &f.StoredPath, &f.SizeBytes, &f.Extension, &f.ExtractedText, &f.ExtractionStatus, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// DeleteFile removes the metadata row. The caller is responsible for
// the blob on disk; the stored path is returned so it can be unlinked
// after the row is gone.
func (s *Store) DeleteFile(ctx context.Context, fileID, userID string) (string, error) {
	f, err := s.GetFile(ctx, fileID, userID)
	if err != nil {
		return "", err
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ? AND user_id = ?;`, fileID, userID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("delete file: %w", err)
	}
	return f.StoredPath, nil
}

// PurgeFilesOlderThan deletes file rows created before the cutoff and
// returns the stored paths of the deleted rows for disk cleanup. Used
// by the retention sweeper.
func (s *Store) PurgeFilesOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stored_path FROM files WHERE created_at < ?;
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select expired files: %w", err)
	}
	var ids []string
	var paths []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired file: %w", err)
		}
		ids = append(ids, id)
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		id := id
		err := retryOnBusy(ctx, 5, func() error {
			_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?;`, id)
			return err
		})
		if err != nil {
			return paths, fmt.Errorf("purge file %s: %w", id, err)
		}
	}
	return paths, nil
}
