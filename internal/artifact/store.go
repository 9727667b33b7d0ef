// Package artifact provides the artifact handoff contract between job
// instances: named opaque blobs published by a producer and consumed by
// downstream jobs, addressed by producer identity plus artifact name.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when no artifact exists for the requested
	// producer identity and name.
	ErrNotFound = errors.New("artifact not found")

	// ErrDuplicate is returned on a second Put for the same identity; an
	// artifact is produced by exactly one job instance and is immutable.
	ErrDuplicate = errors.New("artifact already published")
)

// ProducerID identifies the job instance that published an artifact.
// Qualifier disambiguates fan-out siblings of the same stage; it is empty
// for stages without a matrix.
type ProducerID struct {
	Stage     string `json:"stage"`
	Qualifier string `json:"qualifier,omitempty"`
}

func (id ProducerID) String() string {
	if id.Qualifier == "" {
		return id.Stage
	}
	return id.Stage + "[" + id.Qualifier + "]"
}

// Entry describes one published artifact for the end-of-run manifest.
type Entry struct {
	Producer ProducerID `json:"producer"`
	Name     string     `json:"name"`
	Size     int        `json:"size"`
	Digest   string     `json:"digest"`
}

// Store is the collaborator interface the scheduler publishes to and
// consumers read from. Writes are single-writer per identity; reads are
// many-reader and only become possible after the producing job's terminal
// transition, so implementations need no ordering beyond their own
// internal synchronization.
type Store interface {
	Put(producer ProducerID, name string, blob []byte) error
	Get(producer ProducerID, name string) ([]byte, error)
	Manifest() []Entry
}

type memKey struct {
	producer ProducerID
	name     string
}

// MemStore is the in-memory Store used for single-process runs and tests.
// A backing service implementation satisfies the same interface.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[memKey][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[memKey][]byte)}
}

// Put publishes an immutable artifact. The blob is copied.
func (s *MemStore) Put(producer ProducerID, name string, blob []byte) error {
	if name == "" {
		return fmt.Errorf("artifact name is required")
	}
	key := memKey{producer: producer, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, producer, name)
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.blobs[key] = cp
	return nil
}

// Get retrieves an artifact, or ErrNotFound.
func (s *MemStore) Get(producer ProducerID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[memKey{producer: producer, name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, producer, name)
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

// Manifest lists every published artifact in canonical order.
func (s *MemStore) Manifest() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.blobs))
	for key, blob := range s.blobs {
		sum := sha256.Sum256(blob)
		out = append(out, Entry{
			Producer: key.producer,
			Name:     key.name,
			Size:     len(blob),
			Digest:   hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Producer.Stage != b.Producer.Stage {
			return a.Producer.Stage < b.Producer.Stage
		}
		if a.Producer.Qualifier != b.Producer.Qualifier {
			return a.Producer.Qualifier < b.Producer.Qualifier
		}
		return a.Name < b.Name
	})
	return out
}
