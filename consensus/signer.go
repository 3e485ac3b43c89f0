package consensus

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository/models"
)

// Signer signs canonical transaction bytes with an ed25519 key. Signatures
// are asymmetric sign/verify over the transaction content with the signature
// field zeroed, so a stamped transaction still verifies.
type Signer struct {
	priv ed25519.PrivKey
}

// NewSigner generates a fresh keypair.
func NewSigner() *Signer {
	return &Signer{priv: ed25519.GenPrivKey()}
}

// NewSignerFromSeed derives a keypair deterministically from a seed phrase.
func NewSignerFromSeed(seed string) *Signer {
	return &Signer{priv: ed25519.GenPrivKeyFromSecret([]byte(seed))}
}

// PubKey returns the verification key.
func (s *Signer) PubKey() crypto.PubKey {
	return s.priv.PubKey()
}

// SignTransaction returns the hex-encoded signature over the transaction's
// canonical bytes.
func (s *Signer) SignTransaction(tx *models.Transaction) (string, error) {
	msg, err := CanonicalBytes(tx)
	if err != nil {
		return "", err
	}
	sig, err := s.priv.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// VerifyTransaction checks a hex-encoded signature against the transaction's
// canonical bytes.
func VerifyTransaction(pub crypto.PubKey, tx *models.Transaction, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	msg, err := CanonicalBytes(tx)
	if err != nil {
		return false
	}
	return pub.VerifySignature(msg, sig)
}

// CanonicalBytes serializes a transaction for signing. The lifecycle fields
// that mutate after creation (signature, status, updated_at) are excluded so
// a signature stays valid across legal status transitions.
func CanonicalBytes(tx *models.Transaction) ([]byte, error) {
	clone := *tx
	clone.Signature = ""
	clone.Status = ""
	clone.UpdatedAt = clone.CreatedAt
	return json.Marshal(&clone)
}
