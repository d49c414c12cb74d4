// studyledger.go - In-process study ledger implementing the contract surface.
//
// The ledger is the source of truth for study state: criteria encodings,
// bin configurations, registered commitments, enrollments, consent flags,
// and aggregate bin counters. It is append-only in spirit: participations
// are never rewritten, only consent flags toggle. Persisted as a single
// JSON file, same as the protocol's wallet and key material.
//
// NOTE: StudyLedger locks internally; callers need no external mutex.

package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/sha3"

	"enrollment/internal/bins"
	"enrollment/internal/criteria"
)

// StudyStatus is the on-chain recruiting state of a study.
type StudyStatus uint8

const (
	StudyRecruiting StudyStatus = 1
	StudyClosed     StudyStatus = 2
)

// Typed argument records, one per contract method. Each travels as
// Call.Args[0].
type (
	CreateStudyArgs struct {
		StudyID         uint64
		Criteria        *criteria.LedgerCriteria
		MaxParticipants int
	}
	ConfigureBinsArgs struct {
		StudyID  uint64
		Bins     []bins.DataBin
		LayoutID string
	}
	RegisterCommitmentArgs struct {
		StudyID   uint64
		Wallet    string
		Binding   string
		Challenge string
	}
	JoinStudyArgs struct {
		StudyID   uint64
		Wallet    string
		Proof     []byte
		Binding   string
		Challenge string
		BinIDs    []int
	}
	ConsentArgs struct {
		StudyID uint64
		Wallet  string
	}
	CloseStudyArgs struct {
		StudyID uint64
	}
)

// registeredCommitment is the on-chain commitment record: the binding hash
// and the challenge it was issued against.
type registeredCommitment struct {
	Binding   string `json:"binding"`
	Challenge string `json:"challenge"`
}

// Study is the on-chain study record.
type Study struct {
	ID              uint64                           `json:"id"`
	Creator         string                           `json:"creator"`
	Criteria        *criteria.LedgerCriteria         `json:"criteria"`
	Bins            []bins.DataBin                   `json:"bins,omitempty"`
	LayoutID        string                           `json:"layout_id,omitempty"`
	MaxParticipants int                              `json:"max_participants"`
	Status          StudyStatus                      `json:"status"`
	Commitments     map[string]registeredCommitment  `json:"commitments"`
	Joined          map[string]bool                  `json:"joined"`
	Consent         map[string]bool                  `json:"consent"`
	BinCounts       []uint64                         `json:"bin_counts,omitempty"`
}

// StudyInfo is the read-only study view handed to the enrollment service.
type StudyInfo struct {
	ID                  uint64
	Status              StudyStatus
	MaxParticipants     int
	CurrentParticipants int
	LayoutID            string
	Criteria            *criteria.LedgerCriteria
	Bins                []bins.DataBin
}

// ErrStudyNotFound marks a study id the ledger has never seen. The consent
// path treats it as the never-deployed graceful-degradation case, not a
// failure.
var ErrStudyNotFound = fmt.Errorf("study not found on ledger")

// StudyReader is the read-only accessor surface the enrollment service
// consumes.
type StudyReader interface {
	Study(ctx context.Context, studyID uint64) (*StudyInfo, error)
	HasJoined(ctx context.Context, studyID uint64, wallet string) (bool, error)
	ConsentOf(ctx context.Context, studyID uint64, wallet string) (bool, error)
	Commitment(ctx context.Context, studyID uint64, wallet string) (binding, challenge string, ok bool, err error)
	BinCounts(ctx context.Context, studyID uint64) ([]uint64, error)
}

// StudyLedger is the in-process Client + StudyReader implementation.
type StudyLedger struct {
	mu       sync.Mutex
	Studies  map[uint64]*Study   `json:"studies"`
	Receipts map[string]*Receipt `json:"receipts"`
	Block    uint64              `json:"block"`
	nonce    uint64

	// test hooks, not persisted
	revertNext map[string]string
	failNext   map[string]error
}

// NewStudyLedger creates an empty ledger.
func NewStudyLedger() *StudyLedger {
	return &StudyLedger{
		Studies:    make(map[uint64]*Study),
		Receipts:   make(map[string]*Receipt),
		revertNext: make(map[string]string),
		failNext:   make(map[string]error),
	}
}

// ForceRevertOnce makes the next submitted transaction for method revert at
// execution even though its simulation passed. Test hook for the
// accepted-but-reverted path.
func (l *StudyLedger) ForceRevertOnce(method, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revertNext[method] = reason
}

// FailNetworkOnce makes the next call touching method fail with an
// infrastructure error. Test hook.
func (l *StudyLedger) FailNetworkOnce(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[method] = err
}

// Simulate dry-runs the call against current state. Logic rejections come
// back as *RevertError with the precondition reason.
func (l *StudyLedger) Simulate(ctx context.Context, call Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.failNext[call.Method]; ok {
		delete(l.failNext, call.Method)
		return err
	}
	return l.apply(call, true)
}

// Submit accepts the transaction, executes it, and records a receipt. An
// execution revert is reported through the receipt, never as an error.
func (l *StudyLedger) Submit(ctx context.Context, call Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.failNext[call.Method]; ok {
		delete(l.failNext, call.Method)
		return "", err
	}

	l.nonce++
	l.Block++
	txHash := l.hashTx(call.Method, l.nonce)
	receipt := &Receipt{
		TxHash:      txHash,
		Status:      StatusSuccess,
		BlockNumber: l.Block,
		GasUsed:     21000 + uint64(len(call.Method))*1000,
	}

	if reason, ok := l.revertNext[call.Method]; ok {
		delete(l.revertNext, call.Method)
		receipt.Status = StatusReverted
		receipt.RevertReason = reason
	} else if err := l.apply(call, false); err != nil {
		receipt.Status = StatusReverted
		if re, ok := err.(*RevertError); ok {
			receipt.RevertReason = re.Reason
		} else {
			receipt.RevertReason = err.Error()
		}
	}

	l.Receipts[txHash] = receipt
	return txHash, nil
}

// WaitReceipt returns the receipt for a confirmed transaction.
func (l *StudyLedger) WaitReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.Receipts[txHash]
	if !ok {
		return nil, ErrUnknownTx
	}
	return r, nil
}

func (l *StudyLedger) hashTx(method string, nonce uint64) string {
	h := sha3.NewLegacyKeccak256()
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h.Write(nonceBytes[:])
	h.Write([]byte(method))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// apply validates and (unless dry) executes one contract call. Every
// precondition failure is a *RevertError so simulation and execution report
// identical reasons.
func (l *StudyLedger) apply(call Call, dry bool) error {
	if len(call.Args) != 1 {
		return &RevertError{Reason: "malformed call arguments"}
	}
	switch call.Method {
	case MethodCreateStudy:
		args, ok := call.Args[0].(CreateStudyArgs)
		if !ok {
			return &RevertError{Reason: "bad createStudy arguments"}
		}
		return l.createStudy(call.Sender, args, dry)
	case MethodConfigureBins:
		args, ok := call.Args[0].(ConfigureBinsArgs)
		if !ok {
			return &RevertError{Reason: "bad configureBins arguments"}
		}
		return l.configureBins(call.Sender, args, dry)
	case MethodRegisterCommitment:
		args, ok := call.Args[0].(RegisterCommitmentArgs)
		if !ok {
			return &RevertError{Reason: "bad registerCommitment arguments"}
		}
		return l.registerCommitment(args, dry)
	case MethodJoinStudy:
		args, ok := call.Args[0].(JoinStudyArgs)
		if !ok {
			return &RevertError{Reason: "bad joinStudy arguments"}
		}
		return l.joinStudy(args, dry)
	case MethodGrantConsent:
		args, ok := call.Args[0].(ConsentArgs)
		if !ok {
			return &RevertError{Reason: "bad grantConsent arguments"}
		}
		return l.setConsent(args, true, dry)
	case MethodRevokeConsent:
		args, ok := call.Args[0].(ConsentArgs)
		if !ok {
			return &RevertError{Reason: "bad revokeConsent arguments"}
		}
		return l.setConsent(args, false, dry)
	case MethodCloseStudy:
		args, ok := call.Args[0].(CloseStudyArgs)
		if !ok {
			return &RevertError{Reason: "bad closeStudy arguments"}
		}
		return l.closeStudy(call.Sender, args, dry)
	}
	return &RevertError{Reason: fmt.Sprintf("unknown method %s", call.Method)}
}

func (l *StudyLedger) createStudy(sender string, args CreateStudyArgs, dry bool) error {
	if _, exists := l.Studies[args.StudyID]; exists {
		return &RevertError{Reason: "study id already exists"}
	}
	if args.Criteria == nil || len(args.Criteria.Fields) != criteria.NumFields {
		return &RevertError{Reason: "incomplete criteria encoding"}
	}
	if args.MaxParticipants <= 0 {
		return &RevertError{Reason: "max participants must be positive"}
	}
	if dry {
		return nil
	}
	l.Studies[args.StudyID] = &Study{
		ID:              args.StudyID,
		Creator:         sender,
		Criteria:        args.Criteria,
		MaxParticipants: args.MaxParticipants,
		Status:          StudyRecruiting,
		Commitments:     make(map[string]registeredCommitment),
		Joined:          make(map[string]bool),
		Consent:         make(map[string]bool),
	}
	return nil
}

func (l *StudyLedger) configureBins(sender string, args ConfigureBinsArgs, dry bool) error {
	study, ok := l.Studies[args.StudyID]
	if !ok {
		return &RevertError{Reason: "study does not exist"}
	}
	if study.Creator != sender {
		return &RevertError{Reason: "only the study creator may configure bins"}
	}
	if len(study.Bins) > 0 {
		return &RevertError{Reason: "bins already configured"}
	}
	if errs := bins.ValidateConfiguration(args.Bins); len(errs) > 0 {
		return &RevertError{Reason: fmt.Sprintf("invalid bin configuration: %v", errs[0])}
	}
	if dry {
		return nil
	}
	study.Bins = args.Bins
	study.LayoutID = args.LayoutID
	study.BinCounts = make([]uint64, len(args.Bins))
	return nil
}

func (l *StudyLedger) registerCommitment(args RegisterCommitmentArgs, dry bool) error {
	study, ok := l.Studies[args.StudyID]
	if !ok {
		return &RevertError{Reason: "study does not exist"}
	}
	if study.Status != StudyRecruiting {
		return &RevertError{Reason: "study is not recruiting"}
	}
	// Duplicate registration reverts: this is the on-ledger idempotency
	// check the off-chain store relies on if its rows are lost.
	if _, exists := study.Commitments[args.Wallet]; exists {
		return &RevertError{Reason: "commitment already registered for wallet"}
	}
	if args.Binding == "" || args.Challenge == "" {
		return &RevertError{Reason: "empty commitment binding"}
	}
	if dry {
		return nil
	}
	study.Commitments[args.Wallet] = registeredCommitment{Binding: args.Binding, Challenge: args.Challenge}
	return nil
}

func (l *StudyLedger) joinStudy(args JoinStudyArgs, dry bool) error {
	study, ok := l.Studies[args.StudyID]
	if !ok {
		return &RevertError{Reason: "study does not exist"}
	}
	if study.Status != StudyRecruiting {
		return &RevertError{Reason: "study is not accepting participants"}
	}
	if len(study.Bins) == 0 {
		return &RevertError{Reason: "study bins not configured"}
	}
	reg, exists := study.Commitments[args.Wallet]
	if !exists {
		return &RevertError{Reason: "no registered commitment for wallet"}
	}
	if reg.Binding != args.Binding {
		return &RevertError{Reason: "commitment binding mismatch"}
	}
	if reg.Challenge != args.Challenge {
		return &RevertError{Reason: "challenge mismatch"}
	}
	if study.Joined[args.Wallet] {
		return &RevertError{Reason: "wallet already joined study"}
	}
	if len(study.Joined) >= study.MaxParticipants {
		return &RevertError{Reason: "study is full"}
	}
	if len(args.Proof) == 0 {
		return &RevertError{Reason: "empty proof"}
	}
	for _, id := range args.BinIDs {
		if id < 0 || id >= len(study.BinCounts) {
			return &RevertError{Reason: fmt.Sprintf("bin id %d out of range", id)}
		}
	}
	if dry {
		return nil
	}
	study.Joined[args.Wallet] = true
	study.Consent[args.Wallet] = true
	for _, id := range args.BinIDs {
		study.BinCounts[id]++
	}
	return nil
}

func (l *StudyLedger) setConsent(args ConsentArgs, granted, dry bool) error {
	study, ok := l.Studies[args.StudyID]
	if !ok {
		return &RevertError{Reason: "study does not exist"}
	}
	if !study.Joined[args.Wallet] {
		return &RevertError{Reason: "wallet is not a participant"}
	}
	if study.Consent[args.Wallet] == granted {
		if granted {
			return &RevertError{Reason: "consent already granted"}
		}
		return &RevertError{Reason: "consent already revoked"}
	}
	if dry {
		return nil
	}
	study.Consent[args.Wallet] = granted
	return nil
}

func (l *StudyLedger) closeStudy(sender string, args CloseStudyArgs, dry bool) error {
	study, ok := l.Studies[args.StudyID]
	if !ok {
		return &RevertError{Reason: "study does not exist"}
	}
	if study.Creator != sender {
		return &RevertError{Reason: "only the study creator may close the study"}
	}
	if study.Status == StudyClosed {
		return &RevertError{Reason: "study already closed"}
	}
	if dry {
		return nil
	}
	study.Status = StudyClosed
	return nil
}

// Study returns the read-only view of one study.
func (l *StudyLedger) Study(ctx context.Context, studyID uint64) (*StudyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	study, ok := l.Studies[studyID]
	if !ok {
		return nil, ErrStudyNotFound
	}
	return &StudyInfo{
		ID:                  study.ID,
		Status:              study.Status,
		MaxParticipants:     study.MaxParticipants,
		CurrentParticipants: len(study.Joined),
		LayoutID:            study.LayoutID,
		Criteria:            study.Criteria,
		Bins:                study.Bins,
	}, nil
}

// HasJoined reports whether the wallet holds a finalized participation.
func (l *StudyLedger) HasJoined(ctx context.Context, studyID uint64, wallet string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	study, ok := l.Studies[studyID]
	if !ok {
		return false, ErrStudyNotFound
	}
	return study.Joined[wallet], nil
}

// ConsentOf returns the wallet's current consent flag.
func (l *StudyLedger) ConsentOf(ctx context.Context, studyID uint64, wallet string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	study, ok := l.Studies[studyID]
	if !ok {
		return false, ErrStudyNotFound
	}
	return study.Consent[wallet], nil
}

// Commitment returns the registered binding and challenge for a wallet.
func (l *StudyLedger) Commitment(ctx context.Context, studyID uint64, wallet string) (string, string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	study, ok := l.Studies[studyID]
	if !ok {
		return "", "", false, ErrStudyNotFound
	}
	reg, exists := study.Commitments[wallet]
	return reg.Binding, reg.Challenge, exists, nil
}

// BinCounts returns the aggregate per-bin counters for a study.
func (l *StudyLedger) BinCounts(ctx context.Context, studyID uint64) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	study, ok := l.Studies[studyID]
	if !ok {
		return nil, ErrStudyNotFound
	}
	out := make([]uint64, len(study.BinCounts))
	copy(out, study.BinCounts)
	return out, nil
}

// SaveToFile persists the ledger as indented JSON, overwriting the target.
func (l *StudyLedger) SaveToFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}

// LoadLedgerFromFile restores a ledger from its JSON file.
func LoadLedgerFromFile(path string) (*StudyLedger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l := NewStudyLedger()
	dec := json.NewDecoder(f)
	if err := dec.Decode(l); err != nil {
		return nil, err
	}
	if l.Studies == nil {
		l.Studies = make(map[uint64]*Study)
	}
	if l.Receipts == nil {
		l.Receipts = make(map[string]*Receipt)
	}
	l.nonce = l.Block
	return l, nil
}
