package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/joescharf/prreview/internal/models"
)

var (
	// ErrNotFound is returned when no snapshot exists for a session ID.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidID is returned for session IDs that cannot be used as a
	// file name.
	ErrInvalidID = errors.New("invalid session id")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateID rejects IDs containing anything but letters, digits, '_', '.'
// and '-', and the path elements "." and "..".
func ValidateID(id string) error {
	if !sessionIDPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Store defines the persistence interface for review sessions. Steps go to
// an append-only log, sessions to a wholesale-overwritten snapshot.
type Store interface {
	// Step log
	WriteStep(ctx context.Context, sessionID string, ev *models.StepEvent) error
	ReadSteps(ctx context.Context, sessionID string) ([]*models.StepEvent, error)

	// Snapshots
	WriteSession(ctx context.Context, s *models.Session) error
	ReadSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessionIDs(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for the named backend. target is the sessions
// directory for the file backend and the database path for sqlite.
func Open(ctx context.Context, backend, target string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(target)
	case BackendSQLite:
		s, err := NewSQLiteStore(target)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
