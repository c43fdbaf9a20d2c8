package accumulator

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Domain separators keep the commitment and nullifier hash contexts
// disjoint, preventing cross-context collisions.
var (
	domainCommit    = []byte("bridge-commit-v1")
	domainNullifier = []byte("bridge-nullifier-v1")
	domainRoute     = []byte("bridge-route-v1")
)

// Secret is the private preimage material for one transfer.
type Secret struct {
	Value [32]byte
	Nonce [32]byte
}

// NewSecret draws fresh random secret and nonce values.
func NewSecret() (*Secret, error) {
	var s Secret
	if _, err := rand.Read(s.Value[:]); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	if _, err := rand.Read(s.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return &s, nil
}

// DeriveCommitment computes the hiding, binding commitment over
// (amount, secret, nonce).
func DeriveCommitment(amount *big.Int, secret *Secret) string {
	d := sha3.NewLegacyKeccak256()
	d.Write(domainCommit)
	d.Write(amount.FillBytes(make([]byte, 32)))
	d.Write(secret.Value[:])
	d.Write(secret.Nonce[:])
	var h Hash
	copy(h[:], d.Sum(nil))
	return h.Hex()
}

// DeriveNullifier computes the one-time-use nullifier from the secret. It
// can only be produced by the secret's holder, so its appearance in the
// nullifier set proves the commitment was spent.
func DeriveNullifier(secret *Secret) string {
	d := sha3.NewLegacyKeccak256()
	d.Write(domainNullifier)
	d.Write(secret.Value[:])
	var h Hash
	copy(h[:], d.Sum(nil))
	return h.Hex()
}

// DeriveRouteHash binds a proof to its transfer route.
func DeriveRouteHash(sourceChain, destChain, tokenSymbol string) string {
	d := sha3.NewLegacyKeccak256()
	d.Write(domainRoute)
	d.Write([]byte(sourceChain))
	d.Write([]byte{0})
	d.Write([]byte(destChain))
	d.Write([]byte{0})
	d.Write([]byte(tokenSymbol))
	var h Hash
	copy(h[:], d.Sum(nil))
	return h.Hex()
}
