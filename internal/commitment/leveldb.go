// leveldb.go - LevelDB-backed commitment store for multi-process
// deployments where the JSON file store's load-rewrite cycle is too slow.
//
// Rows are stored as JSON values under "commitment_<wallet>_<studyID>",
// one key per (wallet, study) pair.

package commitment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore persists commitment rows in a LevelDB database.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens (or creates) the database at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening commitment db: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// Close releases the database handle.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func levelKey(wallet string, studyID uint64) []byte {
	return []byte(fmt.Sprintf("commitment_%s_%d", wallet, studyID))
}

func (s *LevelDBStore) Get(wallet string, studyID uint64) (*DataCommitment, error) {
	data, err := s.db.Get(levelKey(wallet, studyID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var row DataCommitment
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decoding commitment row: %w", err)
	}
	return &row, nil
}

func (s *LevelDBStore) Put(row *DataCommitment) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.db.Put(levelKey(row.Wallet, row.StudyID), data, nil)
}

func (s *LevelDBStore) Delete(wallet string, studyID uint64) error {
	return s.db.Delete(levelKey(wallet, studyID), nil)
}

func (s *LevelDBStore) MarkProofSubmitted(wallet string, studyID uint64) error {
	row, err := s.Get(wallet, studyID)
	if err != nil {
		return err
	}
	row.ProofSubmitted = true
	return s.Put(row)
}
