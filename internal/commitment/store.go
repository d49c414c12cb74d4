// store.go - Off-chain commitment bookkeeping.
//
// DataCommitment rows are short-lived: created on first challenge request,
// replaced (delete then insert, never update-in-place) when expired and
// unconsumed, and consumed exactly once. The store is a collaborator behind
// a row-CRUD interface; the JSON file implementation mirrors how the rest
// of the protocol persists state.

package commitment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrNotFound marks a missing commitment row.
var ErrNotFound = errors.New("commitment not found")

// DataCommitment is the off-chain row for one (wallet, study) pair.
type DataCommitment struct {
	Wallet         string    `json:"wallet"`
	StudyID        uint64    `json:"study_id"`
	Commitment     string    `json:"commitment"`
	Challenge      string    `json:"challenge"`
	ExpiresAt      time.Time `json:"expires_at"`
	ProofSubmitted bool      `json:"proof_submitted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the challenge is past its expiry at time now.
func (d *DataCommitment) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Store is the row-level CRUD surface over DataCommitment.
type Store interface {
	Get(wallet string, studyID uint64) (*DataCommitment, error)
	Put(row *DataCommitment) error
	Delete(wallet string, studyID uint64) error
	MarkProofSubmitted(wallet string, studyID uint64) error
}

func rowKey(wallet string, studyID uint64) string {
	return fmt.Sprintf("%s/%d", wallet, studyID)
}

// MemoryStore is the in-memory Store used by tests and single-process
// deployments.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]DataCommitment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]DataCommitment)}
}

func (s *MemoryStore) Get(wallet string, studyID uint64) (*DataCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[rowKey(wallet, studyID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := row
	return &out, nil
}

func (s *MemoryStore) Put(row *DataCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey(row.Wallet, row.StudyID)] = *row
	return nil
}

func (s *MemoryStore) Delete(wallet string, studyID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, rowKey(wallet, studyID))
	return nil
}

func (s *MemoryStore) MarkProofSubmitted(wallet string, studyID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rowKey(wallet, studyID)
	row, ok := s.rows[key]
	if !ok {
		return ErrNotFound
	}
	row.ProofSubmitted = true
	s.rows[key] = row
	return nil
}

// FileStore persists rows as a single JSON file, loaded and rewritten per
// operation.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]DataCommitment, error) {
	rows := make(map[string]DataCommitment)
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return rows, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *FileStore) save(rows map[string]DataCommitment) error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func (s *FileStore) Get(wallet string, studyID uint64) (*DataCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return nil, err
	}
	row, ok := rows[rowKey(wallet, studyID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *FileStore) Put(row *DataCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return err
	}
	rows[rowKey(row.Wallet, row.StudyID)] = *row
	return s.save(rows)
}

func (s *FileStore) Delete(wallet string, studyID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return err
	}
	delete(rows, rowKey(wallet, studyID))
	return s.save(rows)
}

func (s *FileStore) MarkProofSubmitted(wallet string, studyID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return err
	}
	key := rowKey(wallet, studyID)
	row, ok := rows[key]
	if !ok {
		return ErrNotFound
	}
	row.ProofSubmitted = true
	rows[key] = row
	return s.save(rows)
}
