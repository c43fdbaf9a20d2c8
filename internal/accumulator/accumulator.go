package accumulator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-bridge/internal/errs"
	"go-bridge/internal/metrics"
	"go-bridge/internal/models"
	"go-bridge/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

const hashSize = 32

// Hash is a 32-byte tree node value.
type Hash [hashSize]byte

// Hex returns the 0x-prefixed hex encoding.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// ParseHash decodes a 0x-prefixed 32-byte hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash encoding: %w", err)
	}
	if len(raw) != hashSize {
		return h, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// hashPair is the tree's node hash: keccak256(left || right).
func hashPair(left, right Hash) Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(left[:])
	d.Write(right[:])
	var out Hash
	copy(out[:], d.Sum(nil))
	return out
}

// MerkleProof is an inclusion proof captured at insertion time. It stays
// valid against its own recorded root even after the tree advances.
type MerkleProof struct {
	LeafIndex uint64   `json:"leaf_index"`
	Leaf      string   `json:"leaf"`
	Siblings  []string `json:"siblings"` // bottom-up sibling hashes
	Root      string   `json:"root"`     // root at proof time
}

type rootEntry struct {
	root      Hash
	sequence  uint64
	createdAt time.Time
}

// Accumulator is the append-only commitment tree plus the parallel
// nullifier set. It is the source of truth for "has this value already been
// consumed".
//
// Concurrency: the nullifier set's check-then-insert is the single
// correctness-critical exclusion region of the core; it runs under its own
// mutex. Tree reads proceed concurrently with each other under an RWMutex.
type Accumulator struct {
	depth          int
	maxRecentRoots int

	mu         sync.RWMutex
	nodes      []map[uint64]Hash // nodes[level][index]; level 0 = leaves
	zeroHashes []Hash            // zero-subtree hash per level
	nextIndex  uint64
	roots      []rootEntry // bounded sliding window, oldest first
	rootSeq    uint64

	nullMu     sync.Mutex
	nullifiers map[Hash]struct{}

	repo   repository.AccumulatorRepository // optional audit persistence
	logger *logrus.Logger
}

// New creates an empty accumulator of the given depth with a bounded root
// history window.
func New(depth, maxRecentRoots int, repo repository.AccumulatorRepository, logger *logrus.Logger) *Accumulator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	nodes := make([]map[uint64]Hash, depth+1)
	for i := range nodes {
		nodes[i] = make(map[uint64]Hash)
	}
	zeroHashes := make([]Hash, depth+1)
	for i := 1; i <= depth; i++ {
		zeroHashes[i] = hashPair(zeroHashes[i-1], zeroHashes[i-1])
	}
	a := &Accumulator{
		depth:          depth,
		maxRecentRoots: maxRecentRoots,
		nodes:          nodes,
		zeroHashes:     zeroHashes,
		nullifiers:     make(map[Hash]struct{}),
		repo:           repo,
		logger:         logger,
	}
	// The empty tree's root starts the history window.
	a.roots = []rootEntry{{root: zeroHashes[depth], sequence: 0, createdAt: time.Now()}}
	return a
}

// Depth returns the tree depth.
func (a *Accumulator) Depth() int { return a.depth }

// Capacity returns the number of leaves the tree can hold.
func (a *Accumulator) Capacity() uint64 { return 1 << a.depth }

// LeafCount returns the number of commitments inserted so far.
func (a *Accumulator) LeafCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nextIndex
}

// CurrentRoot returns the latest root.
func (a *Accumulator) CurrentRoot() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roots[len(a.roots)-1].root.Hex()
}

func (a *Accumulator) node(level int, index uint64) Hash {
	if h, ok := a.nodes[level][index]; ok {
		return h
	}
	return a.zeroHashes[level]
}

// Insert appends a commitment, assigns it the next free leaf index,
// recomputes the path to the root, and records the new root in the history
// window.
func (a *Accumulator) Insert(ctx context.Context, commitment string) (*models.CommitmentRecord, error) {
	record, leafCount, err := a.insert(commitment)
	if err != nil {
		return nil, err
	}

	if a.repo != nil {
		if err := a.repo.CreateCommitment(ctx, record); err != nil {
			a.logger.WithFields(logrus.Fields{"commitment": record.Hash, "error": err}).
				Warn("Failed to persist commitment record")
		}
		rootRecord := &models.RootRecord{
			Root:      record.Root,
			Sequence:  leafCount, // one root per insertion
			LeafCount: leafCount,
			CreatedAt: record.CreatedAt,
		}
		if err := a.repo.CreateRoot(ctx, rootRecord); err != nil {
			a.logger.WithFields(logrus.Fields{"root": rootRecord.Root, "error": err}).
				Warn("Failed to persist root record")
		}
	}
	return record, nil
}

// insert does the tree mutation without touching persistence.
func (a *Accumulator) insert(commitment string) (*models.CommitmentRecord, uint64, error) {
	leaf, err := ParseHash(commitment)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindLockbox, errs.CodeInvalidCommitment, "malformed commitment", err)
	}

	a.mu.Lock()
	if a.nextIndex >= a.Capacity() {
		a.mu.Unlock()
		return nil, 0, errs.New(errs.KindLockbox, errs.CodeLockboxFull, "accumulator tree is full")
	}

	index := a.nextIndex
	a.nextIndex++

	a.nodes[0][index] = leaf
	idx := index
	for level := 0; level < a.depth; level++ {
		parent := idx / 2
		left := a.node(level, parent*2)
		right := a.node(level, parent*2+1)
		a.nodes[level+1][parent] = hashPair(left, right)
		idx = parent
	}

	a.rootSeq++
	entry := rootEntry{root: a.node(a.depth, 0), sequence: a.rootSeq, createdAt: time.Now()}
	a.roots = append(a.roots, entry)
	if len(a.roots) > a.maxRecentRoots {
		a.roots = a.roots[len(a.roots)-a.maxRecentRoots:]
	}
	leafCount := a.nextIndex
	a.mu.Unlock()

	metrics.AccumulatorLeaves.Set(float64(leafCount))

	record := &models.CommitmentRecord{
		Hash:      leaf.Hex(),
		LeafIndex: index,
		Root:      entry.root.Hex(),
		CreatedAt: entry.createdAt,
	}
	return record, leafCount, nil
}

// Proof returns the inclusion proof for a leaf index against the current
// root.
func (a *Accumulator) Proof(index uint64) (*MerkleProof, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if index >= a.nextIndex {
		return nil, errs.Newf(errs.KindLockbox, errs.CodeInvalidCommitment, "leaf index %d not yet assigned", index)
	}

	siblings := make([]string, a.depth)
	idx := index
	for level := 0; level < a.depth; level++ {
		siblings[level] = a.node(level, idx^1).Hex()
		idx /= 2
	}
	return &MerkleProof{
		LeafIndex: index,
		Leaf:      a.node(0, index).Hex(),
		Siblings:  siblings,
		Root:      a.roots[len(a.roots)-1].root.Hex(),
	}, nil
}

// VerifyProof recomputes the root by folding sibling hashes according to the
// leaf index's path bits and compares it to the proof's recorded root. The
// comparison is against the proof's own root, so a proof captured at
// insertion time stays valid after later insertions.
func (a *Accumulator) VerifyProof(proof *MerkleProof) bool {
	if proof == nil || len(proof.Siblings) != a.depth {
		return false
	}
	current, err := ParseHash(proof.Leaf)
	if err != nil {
		return false
	}
	want, err := ParseHash(proof.Root)
	if err != nil {
		return false
	}
	idx := proof.LeafIndex
	for _, sibHex := range proof.Siblings {
		sibling, err := ParseHash(sibHex)
		if err != nil {
			return false
		}
		if idx&1 == 1 {
			current = hashPair(sibling, current)
		} else {
			current = hashPair(current, sibling)
		}
		idx /= 2
	}
	return current == want
}

// IsKnownRoot reports whether root is the current root or still inside the
// recent-roots window. Roots that aged out are stale by design: bounded
// history trades proof freshness for bounded growth.
func (a *Accumulator) IsKnownRoot(root string) bool {
	h, err := ParseHash(root)
	if err != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.roots) - 1; i >= 0; i-- {
		if a.roots[i].root == h {
			return true
		}
	}
	return false
}

// AddNullifier records a nullifier as spent. The check-then-insert is
// indivisible with respect to concurrent callers: two unlock attempts racing
// on the same nullifier cannot both observe "not yet spent".
func (a *Accumulator) AddNullifier(ctx context.Context, nullifier string, record *models.NullifierRecord) error {
	h, err := ParseHash(nullifier)
	if err != nil {
		return errs.Wrap(errs.KindLockbox, errs.CodeInvalidCommitment, "malformed nullifier", err)
	}

	a.nullMu.Lock()
	if _, spent := a.nullifiers[h]; spent {
		a.nullMu.Unlock()
		return errs.Newf(errs.KindLockbox, errs.CodeNullifierUsed, "nullifier already used: %s", nullifier)
	}
	a.nullifiers[h] = struct{}{}
	a.nullMu.Unlock()

	metrics.NullifiersSpent.Inc()

	if a.repo != nil {
		if record == nil {
			record = &models.NullifierRecord{Hash: h.Hex(), SpentAt: time.Now()}
		}
		record.Hash = h.Hex()
		if err := a.repo.CreateNullifier(ctx, record); err != nil {
			a.logger.WithFields(logrus.Fields{"nullifier": record.Hash, "error": err}).
				Warn("Failed to persist nullifier record")
		}
	}
	return nil
}

// HasNullifier is a pure membership check.
func (a *Accumulator) HasNullifier(nullifier string) bool {
	h, err := ParseHash(nullifier)
	if err != nil {
		return false
	}
	a.nullMu.Lock()
	defer a.nullMu.Unlock()
	_, spent := a.nullifiers[h]
	return spent
}

// Restore rebuilds the in-memory tree and nullifier set from the persisted
// audit trail. Called once at startup before the accumulator is shared.
func (a *Accumulator) Restore(ctx context.Context) error {
	if a.repo == nil {
		return nil
	}
	commitments, err := a.repo.ListCommitments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load commitments: %w", err)
	}
	for _, c := range commitments {
		if _, _, err := a.insert(c.Hash); err != nil {
			return fmt.Errorf("failed to replay commitment %s: %w", c.Hash, err)
		}
	}
	nullifiers, err := a.repo.ListNullifiers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nullifiers: %w", err)
	}
	a.nullMu.Lock()
	for _, n := range nullifiers {
		if h, err := ParseHash(n.Hash); err == nil {
			a.nullifiers[h] = struct{}{}
		}
	}
	a.nullMu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"commitments": len(commitments),
		"nullifiers":  len(nullifiers),
	}).Info("Accumulator state restored")
	return nil
}
