// hash.go - Binding-hash and digest primitives for the commitment protocol.
//
// The binding value hash(wallet, commitment, challenge) is what actually
// lands on the ledger. It is computed once at registration and recomputed
// byte-identically at proof submission; any drift between the two means
// tampering or a wrong wallet/study pairing and is a hard rejection.

package commitment

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// WalletLen is the wallet address length: a hex-encoded 32-byte x-only
// public key.
const WalletLen = 64

// ValidWallet reports whether s is a well-formed wallet address.
func ValidWallet(s string) bool {
	if len(s) != WalletLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// BindingHash computes MiMC(wallet, commitment, challenge) over BN254.
// Inputs are hex strings; each is reduced into the scalar field before
// hashing so the result matches the in-circuit MiMC.
func BindingHash(wallet, commitment, challenge string) (string, error) {
	h := mimcNative.NewMiMC()
	for _, in := range []struct{ name, val string }{
		{"wallet", wallet},
		{"commitment", commitment},
		{"challenge", challenge},
	} {
		raw, err := hex.DecodeString(in.val)
		if err != nil {
			return "", fmt.Errorf("binding hash: bad %s hex: %w", in.name, err)
		}
		var fe fr.Element
		fe.SetBytes(raw)
		h.Write(fe.Marshal())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CommitmentDigest is the 32-byte message a participant signs over their
// unregistered data commitment: SHA256(studyID || commitment bytes).
func CommitmentDigest(studyID uint64, commitment string) ([32]byte, error) {
	raw, err := hex.DecodeString(commitment)
	if err != nil {
		return [32]byte{}, fmt.Errorf("commitment digest: bad commitment hex: %w", err)
	}
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], studyID)
	h := sha256.New()
	h.Write(idBytes[:])
	h.Write(raw)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
