package commitment

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"enrollment/internal/bins"
	"enrollment/internal/chain"
	"enrollment/internal/criteria"
	"enrollment/internal/txflow"
)

// testKey is a participant keypair: the wallet address is the x-only public
// key, signatures are BIP-340 Schnorr over the commitment digest.
type testKey struct {
	priv   *btcec.PrivateKey
	wallet string
}

func newTestKey(t *testing.T) *testKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	return &testKey{
		priv:   priv,
		wallet: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

func (k *testKey) sign(t *testing.T, studyID uint64, commitment string) []byte {
	t.Helper()
	digest, err := CommitmentDigest(studyID, commitment)
	if err != nil {
		t.Fatalf("CommitmentDigest failed: %v", err)
	}
	sig, err := schnorr.Sign(k.priv, digest[:])
	if err != nil {
		t.Fatalf("schnorr sign failed: %v", err)
	}
	return sig.Serialize()
}

const testCommitmentHex = "1f2e3d4c5b6a79880102030405060708090a0b0c0d0e0f101112131415161718"

func newTestLedger(t *testing.T) *chain.StudyLedger {
	t.Helper()
	ctx := context.Background()
	l := chain.NewStudyLedger()
	c := &criteria.EligibilityCriteria{Age: criteria.RangePredicate{Enabled: true, Min: 18, Max: 65}}
	enc, _, err := criteria.Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	set, err := bins.Compile(c, bins.DefaultOptions())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for _, call := range []chain.Call{
		{Method: chain.MethodCreateStudy, Sender: "creator", Args: []interface{}{
			chain.CreateStudyArgs{StudyID: 1, Criteria: enc, MaxParticipants: 10},
		}},
		{Method: chain.MethodConfigureBins, Sender: "creator", Args: []interface{}{
			chain.ConfigureBinsArgs{StudyID: 1, Bins: set.Bins, LayoutID: set.LayoutID},
		}},
	} {
		if _, err := l.Submit(ctx, call); err != nil {
			t.Fatalf("Submit(%s) failed: %v", call.Method, err)
		}
	}
	return l
}

func TestIssueChallengeIdempotentBeforeExpiry(t *testing.T) {
	key := newTestKey(t)
	sig := key.sign(t, 1, testCommitmentHex)

	current := time.Unix(1_700_000_000, 0)
	adapter := NewAdapter(NewMemoryStore(), nil, time.Hour, WithClock(func() time.Time { return current }))

	first, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, sig)
	if err != nil {
		t.Fatalf("first IssueChallenge failed: %v", err)
	}
	if first.Challenge == "" || first.ExpiresAt != current.Add(time.Hour) {
		t.Errorf("unexpected row %+v", first)
	}

	current = current.Add(30 * time.Minute)
	second, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, sig)
	if err != nil {
		t.Fatalf("second IssueChallenge failed: %v", err)
	}
	if second.Challenge != first.Challenge {
		t.Error("unexpired challenge must be returned unchanged")
	}
}

func TestIssueChallengeRegeneratesAfterExpiry(t *testing.T) {
	key := newTestKey(t)
	sig := key.sign(t, 1, testCommitmentHex)

	current := time.Unix(1_700_000_000, 0)
	adapter := NewAdapter(NewMemoryStore(), nil, time.Hour, WithClock(func() time.Time { return current }))

	first, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, sig)
	if err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}

	// TTL 3600s, request again at T+7200s: the stale row is deleted and a
	// fresh challenge issued.
	current = current.Add(2 * time.Hour)
	second, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, sig)
	if err != nil {
		t.Fatalf("IssueChallenge after expiry failed: %v", err)
	}
	if second.Challenge == first.Challenge {
		t.Error("expired challenge must not be reissued")
	}
	if second.ExpiresAt != current.Add(time.Hour) {
		t.Errorf("fresh expiry = %v, want %v", second.ExpiresAt, current.Add(time.Hour))
	}
}

func TestIssueChallengeRejectsBadSignature(t *testing.T) {
	key := newTestKey(t)
	other := newTestKey(t)
	// Signature from the wrong key.
	sig := other.sign(t, 1, testCommitmentHex)

	adapter := NewAdapter(NewMemoryStore(), nil, time.Hour)
	_, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("error = %v, want ErrInvalidSignature", err)
	}
}

func TestIssueChallengeRejectsChangedCommitment(t *testing.T) {
	key := newTestKey(t)
	adapter := NewAdapter(NewMemoryStore(), nil, time.Hour)

	if _, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, key.sign(t, 1, testCommitmentHex)); err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}
	changed := "aa" + testCommitmentHex[2:]
	_, err := adapter.IssueChallenge(1, key.wallet, changed, key.sign(t, 1, changed))
	if !errors.Is(err, ErrCommitmentMismatch) {
		t.Fatalf("error = %v, want ErrCommitmentMismatch", err)
	}
}

func TestIssueChallengeAfterConsumptionRejected(t *testing.T) {
	key := newTestKey(t)
	store := NewMemoryStore()
	adapter := NewAdapter(store, nil, time.Hour)

	if _, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, key.sign(t, 1, testCommitmentHex)); err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}
	if err := adapter.Consume(key.wallet, 1); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	_, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, key.sign(t, 1, testCommitmentHex))
	if !errors.Is(err, ErrProofAlreadySubmitted) {
		t.Fatalf("error = %v, want ErrProofAlreadySubmitted", err)
	}
}

func TestRegisterOnChain(t *testing.T) {
	ctx := context.Background()
	key := newTestKey(t)
	ledger := newTestLedger(t)
	store := NewMemoryStore()
	adapter := NewAdapter(store, txflow.New(ledger), time.Hour)

	row, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, key.sign(t, 1, testCommitmentHex))
	if err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}

	receipt, binding, err := adapter.RegisterOnChain(ctx, 1, key.wallet)
	if err != nil {
		t.Fatalf("RegisterOnChain failed: %v", err)
	}
	if receipt.Status != chain.StatusSuccess {
		t.Fatalf("registration reverted: %s", receipt.RevertReason)
	}

	want, err := BindingHash(key.wallet, testCommitmentHex, row.Challenge)
	if err != nil {
		t.Fatalf("BindingHash failed: %v", err)
	}
	if binding != want {
		t.Error("registered binding differs from recomputed binding")
	}

	gotBinding, gotChallenge, ok, err := ledger.Commitment(ctx, 1, key.wallet)
	if err != nil || !ok {
		t.Fatalf("ledger commitment lookup failed: ok=%v err=%v", ok, err)
	}
	if gotBinding != want || gotChallenge != row.Challenge {
		t.Error("ledger registered different binding or challenge")
	}

	// Second registration is rejected by the ledger's own idempotency
	// check, classified as a simulation failure.
	_, _, err = adapter.RegisterOnChain(ctx, 1, key.wallet)
	var simErr *txflow.SimulationError
	if !errors.As(err, &simErr) {
		t.Fatalf("duplicate registration error = %v, want SimulationError", err)
	}
}

func TestBindingHashDeterministic(t *testing.T) {
	a, err := BindingHash("ab"+testCommitmentHex[2:], testCommitmentHex, "0011")
	if err != nil {
		t.Fatalf("BindingHash failed: %v", err)
	}
	b, err := BindingHash("ab"+testCommitmentHex[2:], testCommitmentHex, "0011")
	if err != nil {
		t.Fatalf("BindingHash failed: %v", err)
	}
	if a != b {
		t.Error("binding hash not deterministic")
	}
	c, err := BindingHash("ab"+testCommitmentHex[2:], testCommitmentHex, "0012")
	if err != nil {
		t.Fatalf("BindingHash failed: %v", err)
	}
	if a == c {
		t.Error("different challenges should change the binding hash")
	}
}

func TestChallengesNeverReusedAcrossPairs(t *testing.T) {
	adapter := NewAdapter(NewMemoryStore(), nil, time.Hour)
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		key := newTestKey(t)
		row, err := adapter.IssueChallenge(1, key.wallet, testCommitmentHex, key.sign(t, 1, testCommitmentHex))
		if err != nil {
			t.Fatalf("IssueChallenge failed: %v", err)
		}
		if seen[row.Challenge] {
			t.Fatal("challenge value reused across participants")
		}
		seen[row.Challenge] = true
	}
}
