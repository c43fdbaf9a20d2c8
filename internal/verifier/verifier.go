package verifier

import (
	"context"
	"strings"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/errs"
	"go-bridge/internal/metrics"
	"go-bridge/internal/models"

	"github.com/sirupsen/logrus"
)

// CryptoVerifier is the opaque cryptographic verification capability. The
// verifier delegates pairing checks to it and owns only the surrounding
// bookkeeping.
type CryptoVerifier interface {
	Verify(ctx context.Context, proof *models.BridgeProof, verificationKey string) (bool, error)
}

// Public-input layout of the transfer circuit. Strict mode cross-checks
// these positions against the structured fields the proof claims to prove.
const (
	inputNullifier = iota
	inputOutputCommitment
	inputRouteHash
	inputAmount
	inputMerkleRoot
)

// Options tune the verification pipeline.
type Options struct {
	VerificationKey      string
	ExpectedPublicInputs int
	StrictMode           bool
}

// Verifier decides whether a submitted proof may be acted upon. Checks run
// in a fixed order: the cheap ones (structure, nullifier freshness, root
// recency) before the expensive cryptographic call, and the strict
// consistency cross-check after it, once the proof is known to be
// internally valid.
type Verifier struct {
	acc    *accumulator.Accumulator
	crypto CryptoVerifier
	opts   Options
	logger *logrus.Logger
}

// New creates a Verifier.
func New(acc *accumulator.Accumulator, crypto CryptoVerifier, opts Options, logger *logrus.Logger) *Verifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.ExpectedPublicInputs <= 0 {
		opts.ExpectedPublicInputs = inputMerkleRoot + 1
	}
	return &Verifier{acc: acc, crypto: crypto, opts: opts, logger: logger}
}

// Verify runs the full pipeline on a proof.
func (v *Verifier) Verify(ctx context.Context, proof *models.BridgeProof) error {
	start := time.Now()
	defer func() {
		metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	}()

	// 1. Structural validation.
	if err := v.checkStructure(proof); err != nil {
		metrics.ProofVerifications.WithLabelValues("structural").Inc()
		return err
	}

	// 2. Nullifier freshness. A spent nullifier fails here, before any
	// cryptographic effort is spent on a doomed proof.
	if proof.Nullifier != "" && v.acc.HasNullifier(proof.Nullifier) {
		metrics.ProofVerifications.WithLabelValues("nullifier_used").Inc()
		return errs.Newf(errs.KindLockbox, errs.CodeNullifierUsed,
			"nullifier already used: %s", proof.Nullifier)
	}

	// 3. Merkle-root recency. The claimed root must be the current root or
	// still inside the recent-roots window.
	if !v.acc.IsKnownRoot(proof.MerkleRoot) {
		metrics.ProofVerifications.WithLabelValues("stale_root").Inc()
		return errs.Newf(errs.KindProof, errs.CodeStaleRoot,
			"merkle root %s is stale or unknown", proof.MerkleRoot)
	}

	// 4. Cryptographic verification, delegated to the opaque capability.
	valid, err := v.crypto.Verify(ctx, proof, v.opts.VerificationKey)
	if err != nil {
		metrics.ProofVerifications.WithLabelValues("crypto").Inc()
		return err
	}
	if !valid {
		metrics.ProofVerifications.WithLabelValues("crypto").Inc()
		return errs.New(errs.KindProof, errs.CodeProofVerification,
			"cryptographic proof verification failed")
	}

	// 5. Strict mode: the public inputs must equal the structured fields
	// the proof claims to prove. A mismatch means the proof was generated
	// for different public data than presented, so it fails even though
	// the cryptographic check passed.
	if v.opts.StrictMode {
		if err := v.checkPublicInputConsistency(proof); err != nil {
			metrics.ProofVerifications.WithLabelValues("inputs_mismatch").Inc()
			return err
		}
	}

	metrics.ProofVerifications.WithLabelValues("ok").Inc()
	v.logger.WithFields(logrus.Fields{
		"commitment": proof.Commitment,
		"root":       proof.MerkleRoot,
		"target":     proof.TargetChainID,
	}).Debug("Proof verified")
	return nil
}

func (v *Verifier) checkStructure(proof *models.BridgeProof) error {
	if proof == nil {
		return errs.New(errs.KindProof, errs.CodeInvalidProof, "nil proof")
	}
	if len(proof.ProofBytes) == 0 {
		return errs.New(errs.KindProof, errs.CodeInvalidProof, "empty proof bytes")
	}
	if len(proof.PublicInputs) != v.opts.ExpectedPublicInputs {
		return errs.Newf(errs.KindProof, errs.CodeInvalidProof,
			"public input count mismatch: got %d, circuit expects %d",
			len(proof.PublicInputs), v.opts.ExpectedPublicInputs)
	}
	if proof.MerkleRoot == "" {
		return errs.New(errs.KindProof, errs.CodeInvalidProof, "missing merkle root")
	}
	return nil
}

func (v *Verifier) checkPublicInputConsistency(proof *models.BridgeProof) error {
	claims := []struct {
		index int
		field string
		value string
	}{
		{inputNullifier, "nullifier", proof.Nullifier},
		{inputOutputCommitment, "output_commitment", proof.OutputCommitment},
		{inputRouteHash, "route_hash", proof.RouteHash},
		{inputAmount, "amount", proof.Amount},
		{inputMerkleRoot, "merkle_root", proof.MerkleRoot},
	}
	for _, claim := range claims {
		if claim.value == "" {
			continue
		}
		if claim.index >= len(proof.PublicInputs) {
			return errs.Newf(errs.KindProof, errs.CodeProofVerification,
				"public input %s missing at index %d", claim.field, claim.index)
		}
		if !strings.EqualFold(proof.PublicInputs[claim.index], claim.value) {
			return errs.Newf(errs.KindProof, errs.CodeProofVerification,
				"public input %s does not match claimed value", claim.field)
		}
	}
	return nil
}
