// participation.go - Finalized participation records.
//
// A row is written only after the join transaction confirms successfully;
// there is never a provisional row to roll back.

package enrollment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrParticipationNotFound marks a missing participation row.
var ErrParticipationNotFound = errors.New("participation not found")

// StudyParticipation is the local record of one confirmed enrollment: the
// submitted proof and its public outputs, the binding that anchored them,
// and the participant's current consent state. Consent starts granted at
// join and is toggled alongside the on-ledger flag, or locally alone when
// the study never made it onto the ledger.
type StudyParticipation struct {
	Wallet        string    `json:"wallet"`
	StudyID       uint64    `json:"study_id"`
	TxHash        string    `json:"tx_hash"`
	Binding       string    `json:"binding"`
	Proof         []byte    `json:"proof"`
	PublicSignals []uint64  `json:"public_signals"`
	BinIDs        []int     `json:"bin_ids"`
	Consent       bool      `json:"consent"`
	JoinedAt      time.Time `json:"joined_at"`
}

// ParticipationStore persists confirmed participations.
type ParticipationStore interface {
	Get(wallet string, studyID uint64) (*StudyParticipation, error)
	Put(row *StudyParticipation) error
	ListByStudy(studyID uint64) ([]*StudyParticipation, error)
}

func participationKey(wallet string, studyID uint64) string {
	return fmt.Sprintf("%s/%d", wallet, studyID)
}

// MemoryParticipationStore is the in-memory store used by tests and
// single-process deployments.
type MemoryParticipationStore struct {
	mu   sync.Mutex
	rows map[string]StudyParticipation
}

// NewMemoryParticipationStore creates an empty store.
func NewMemoryParticipationStore() *MemoryParticipationStore {
	return &MemoryParticipationStore{rows: make(map[string]StudyParticipation)}
}

func (s *MemoryParticipationStore) Get(wallet string, studyID uint64) (*StudyParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[participationKey(wallet, studyID)]
	if !ok {
		return nil, ErrParticipationNotFound
	}
	out := row
	return &out, nil
}

func (s *MemoryParticipationStore) Put(row *StudyParticipation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[participationKey(row.Wallet, row.StudyID)] = *row
	return nil
}

func (s *MemoryParticipationStore) ListByStudy(studyID uint64) ([]*StudyParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StudyParticipation
	for _, row := range s.rows {
		if row.StudyID == studyID {
			r := row
			out = append(out, &r)
		}
	}
	return out, nil
}

// FileParticipationStore persists rows as a single JSON file.
type FileParticipationStore struct {
	mu   sync.Mutex
	path string
}

// NewFileParticipationStore creates a store backed by the JSON file at path.
func NewFileParticipationStore(path string) *FileParticipationStore {
	return &FileParticipationStore{path: path}
}

func (s *FileParticipationStore) load() (map[string]StudyParticipation, error) {
	rows := make(map[string]StudyParticipation)
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

func (s *FileParticipationStore) save(rows map[string]StudyParticipation) error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func (s *FileParticipationStore) Get(wallet string, studyID uint64) (*StudyParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return nil, err
	}
	row, ok := rows[participationKey(wallet, studyID)]
	if !ok {
		return nil, ErrParticipationNotFound
	}
	return &row, nil
}

func (s *FileParticipationStore) Put(row *StudyParticipation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return err
	}
	rows[participationKey(row.Wallet, row.StudyID)] = *row
	return s.save(rows)
}

func (s *FileParticipationStore) ListByStudy(studyID uint64) ([]*StudyParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*StudyParticipation
	for _, row := range rows {
		if row.StudyID == studyID {
			r := row
			out = append(out, &r)
		}
	}
	return out, nil
}
