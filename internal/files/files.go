// Package files turns uploaded documents into inline model context.
//
// Extraction itself (PDF, DOCX, whatever) is an injected collaborator;
// this package stores the result and renders it back into prompts.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/audit"
	"github.com/parleyhq/parley/internal/persistence"
)

// Extractor pulls plain text from a stored file. Status is one of the
// persistence extraction statuses; a failed or too_large status is a
// valid result, not an error.
type Extractor interface {
	Extract(ctx context.Context, path, extension string) (text string, status string)
}

// Store is the subset of the persistence layer the service needs.
type Store interface {
	InsertFile(ctx context.Context, f persistence.File) (*persistence.File, error)
	GetFile(ctx context.Context, fileID, userID string) (*persistence.File, error)
	ListFiles(ctx context.Context, userID string, limit int) ([]*persistence.File, error)
	DeleteFile(ctx context.Context, fileID, userID string) (string, error)
}

// Service owns the uploads directory and file metadata.
type Service struct {
	store        Store
	extractor    Extractor
	uploadsDir   string
	maxSizeBytes int64
	allowedExts  map[string]bool
	logger       *slog.Logger
}

// Options configures a Service. Zero values get sensible defaults.
type Options struct {
	UploadsDir   string
	MaxSizeBytes int64
	AllowedExts  []string
	Logger       *slog.Logger
}

const defaultMaxSizeBytes = 10 << 20

func defaultAllowedExts() []string {
	return []string{".txt", ".md", ".pdf", ".docx", ".csv", ".json", ".log"}
}

// NewService returns a file service backed by store and extractor.
func NewService(store Store, extractor Extractor, opts Options) *Service {
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = defaultMaxSizeBytes
	}
	if len(opts.AllowedExts) == 0 {
		opts.AllowedExts = defaultAllowedExts()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	allowed := make(map[string]bool, len(opts.AllowedExts))
	for _, ext := range opts.AllowedExts {
		allowed[strings.ToLower(ext)] = true
	}
	return &Service{
		store:        store,
		extractor:    extractor,
		uploadsDir:   opts.UploadsDir,
		maxSizeBytes: opts.MaxSizeBytes,
		allowedExts:  allowed,
		logger:       opts.Logger.With("component", "files"),
	}
}

// SaveUpload validates, stores, extracts, and records one upload.
func (s *Service) SaveUpload(ctx context.Context, userID, originalName string, size int64, r io.Reader) (*persistence.File, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !s.allowedExts[ext] {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	if size > s.maxSizeBytes {
		return nil, fmt.Errorf("file exceeds size limit (%d > %d bytes)", size, s.maxSizeBytes)
	}

	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	storedPath := filepath.Join(s.uploadsDir, uuid.NewString()+ext)
	dst, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	written, err := io.Copy(dst, io.LimitReader(r, s.maxSizeBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(storedPath)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if written > s.maxSizeBytes {
		_ = os.Remove(storedPath)
		return nil, fmt.Errorf("file exceeds size limit (%d bytes)", s.maxSizeBytes)
	}

	text, status := s.extractor.Extract(ctx, storedPath, ext)
	saved, err := s.store.InsertFile(ctx, persistence.File{
		UserID:           userID,
		OriginalName:     originalName,
		StoredPath:       storedPath,
		SizeBytes:        written,
		Extension:        ext,
		ExtractedText:    text,
		ExtractionStatus: status,
	})
	if err != nil {
		_ = os.Remove(storedPath)
		return nil, err
	}
	s.logger.Info("file stored",
		"file_id", saved.ID,
		"name", originalName,
		"bytes", written,
		"extraction", status)
	return saved, nil
}

// Get returns one file owned by userID.
func (s *Service) Get(ctx context.Context, fileID, userID string) (*persistence.File, error) {
	return s.store.GetFile(ctx, fileID, userID)
}

// List returns the user's files, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*persistence.File, error) {
	return s.store.ListFiles(ctx, userID, limit)
}

// Delete removes the metadata row and the blob on disk. A missing
// blob is not an error; the row is the source of truth.
func (s *Service) Delete(ctx context.Context, fileID, userID string) error {
	path, err := s.store.DeleteFile(ctx, fileID, userID)
	if err != nil {
		return err
	}
	audit.Record("file.delete", userID, fileID, path)
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("orphaned upload blob", "path", path, "error", err)
		}
	}
	return nil
}
