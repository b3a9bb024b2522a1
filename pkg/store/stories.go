// Package store persists story records and the run ledger.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"

	"storyloom/pkg/schema"
	"storyloom/pkg/utils"
)

// Stories keeps every story record in one JSON array file. A sidecar lock
// file serializes access across processes.
type Stories struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func OpenStories(path string) (*Stories, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create stories directory: %w", err)
	}
	return &Stories{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the JSON file location.
func (s *Stories) Path() string { return s.path }

// List returns all records, newest first.
func (s *Stories) List() ([]schema.Story, error) {
	var stories []schema.Story
	err := s.withLock(false, func() error {
		var err error
		stories, err = s.load()
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(stories, func(a, b schema.Story) int { return b.Timestamp.Compare(a.Timestamp) })
	return stories, nil
}

// Get returns the record with id. Scene links are repaired on read.
func (s *Stories) Get(id string) (schema.Story, bool, error) {
	var (
		story schema.Story
		found bool
	)
	err := s.withLock(false, func() error {
		stories, err := s.load()
		if err != nil {
			return err
		}
		if i := index(stories, id); i >= 0 {
			story, found = stories[i], true
		}
		return nil
	})
	if found {
		story.Relink()
	}
	return story, found, err
}

// Upsert replaces the record with the same id or appends it.
func (s *Stories) Upsert(story schema.Story) error {
	if story.ID == "" {
		return errors.New("story id is required")
	}
	return s.withLock(true, func() error {
		stories, err := s.load()
		if err != nil {
			return err
		}
		if i := index(stories, story.ID); i >= 0 {
			stories[i] = story
		} else {
			stories = append(stories, story)
		}
		return utils.Save(s.path, stories)
	})
}

// Delete removes the record with id and reports whether it existed.
func (s *Stories) Delete(id string) (bool, error) {
	var found bool
	err := s.withLock(true, func() error {
		stories, err := s.load()
		if err != nil {
			return err
		}
		i := index(stories, id)
		if i < 0 {
			return nil
		}
		found = true
		return utils.Save(s.path, slices.Delete(stories, i, i+1))
	})
	return found, err
}

func (s *Stories) load() ([]schema.Story, error) {
	stories, err := utils.Load[[]schema.Story](s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", err)
	}
	return stories, nil
}

func (s *Stories) withLock(write bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFn := s.lock.RLock
	if write {
		lockFn = s.lock.Lock
	}
	if err := lockFn(); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func index(stories []schema.Story, id string) int {
	return slices.IndexFunc(stories, func(st schema.Story) bool { return st.ID == id })
}
