package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

// JSON-backed storage. Single file, human-readable, the same layout the web app
// used for data/donations.json.
// Writes go to a temp file in the same directory and are renamed over the
// original, so a crash never leaves a truncated document behind. A sibling
// ".lock" file serializes writers across processes.

const lockRetryDelay = 25 * time.Millisecond

type FileLedgerStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileLedgerStore(path string) *FileLedgerStore {
	return &FileLedgerStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the location of the collection document.
func (s *FileLedgerStore) Path() string {
	return s.path
}

func (s *FileLedgerStore) Load(ctx context.Context) (models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

func (s *FileLedgerStore) Save(ctx context.Context, collection models.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return storage.WriteFailure(fmt.Errorf("create data dir: %w", err))
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return storage.WriteFailure(fmt.Errorf("acquire file lock: %w", err))
	}
	if !locked {
		return storage.WriteFailure(errors.New("file lock not acquired"))
	}
	defer s.lock.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	if current.Version != collection.Version {
		return storage.Conflict(collection.Version, current.Version)
	}

	next := collection.Clone()
	next.Version++
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return storage.SerializationFailure(fmt.Errorf("json marshal: %w", err))
	}
	return s.writeAtomic(b)
}

func (s *FileLedgerStore) read() (models.Collection, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.NewCollection(), nil
		}
		return models.Collection{}, storage.ReadFailure(fmt.Errorf("read file: %w", err))
	}
	if len(b) == 0 {
		return models.NewCollection(), nil
	}

	collection := models.NewCollection()
	if err := json.Unmarshal(b, &collection); err != nil {
		return models.Collection{}, storage.SerializationFailure(fmt.Errorf("json unmarshal: %w", err))
	}
	// documents written by the old web app have no donations array
	if collection.Equipment == nil {
		collection.Equipment = []models.EquipmentItem{}
	}
	if collection.Donations == nil {
		collection.Donations = []models.Donation{}
	}
	return collection, nil
}

func (s *FileLedgerStore) writeAtomic(b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storage.WriteFailure(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(b); err != nil {
		cleanup()
		return storage.WriteFailure(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return storage.WriteFailure(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storage.WriteFailure(fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return storage.WriteFailure(fmt.Errorf("chmod temp file: %w", err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return storage.WriteFailure(fmt.Errorf("rename temp file: %w", err))
	}
	return nil
}

var _ interfaces.LedgerStore = (*FileLedgerStore)(nil)
