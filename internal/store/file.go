package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joescharf/prreview/internal/models"
)

const (
	stepsSuffix    = "_steps.jsonl"
	snapshotSuffix = "_complete.json"

	// Step records embed retrieved documents and can be far larger than
	// bufio's default token size.
	maxLineSize = 16 * 1024 * 1024
)

// FileStore implements Store on plain files: <dir>/<id>_steps.jsonl holds
// one StepEvent per line and <dir>/<id>_complete.json holds the snapshot.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) stepsPath(id string) string {
	return filepath.Join(s.dir, id+stepsSuffix)
}

func (s *FileStore) snapshotPath(id string) string {
	return filepath.Join(s.dir, id+snapshotSuffix)
}

// WriteStep appends one line to the session's step log and syncs it.
func (s *FileStore) WriteStep(ctx context.Context, sessionID string, ev *models.StepEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	if ev.EventID == "" {
		ev.EventID = newULID()
	}
	ev.SessionID = sessionID
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal step %s: %w", ev.StepID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.stepsPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open step log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append step %s: %w", ev.StepID, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync step log: %w", err)
	}
	return f.Close()
}

// ReadSteps returns every event in the session's log in write order.
func (s *FileStore) ReadSteps(ctx context.Context, sessionID string) ([]*models.StepEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}
	f, err := os.Open(s.stepsPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return []*models.StepEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open step log: %w", err)
	}
	defer f.Close()

	events := []*models.StepEvent{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev models.StepEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("step log %s line %d: %w", sessionID, lineNo, err)
		}
		events = append(events, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read step log %s: %w", sessionID, err)
	}
	return events, nil
}

// WriteSession replaces the snapshot atomically via a temp file and rename.
func (s *FileStore) WriteSession(ctx context.Context, sess *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateID(sess.SessionID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.SessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, sess.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.snapshotPath(sess.SessionID)); err != nil {
		cleanup()
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// ReadSession loads a snapshot, returning ErrNotFound if none exists.
func (s *FileStore) ReadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.snapshotPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", sessionID, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &sess, nil
}

// ListSessionIDs returns the IDs of every snapshot, newest first. Sessions
// with only a step log are not listed.
func (s *FileStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), snapshotSuffix))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Close is a no-op; files are opened per call.
func (s *FileStore) Close() error { return nil }
