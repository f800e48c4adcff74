package ledger

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

type memoryEntry struct {
	anchor Anchor
	block  uint64
	at     time.Time
}

// Memory is an append-only hash chain held in process memory. Each entry
// is referenced by Keccak-256(previous reference || digest), rendered as
// "0x" + 64 hex chars.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	order   []string
	head    [32]byte
	now     func() time.Time

	// Fail, when set, is consulted before every Submit and Receipt; a
	// non-nil result is returned as the call's error.
	Fail func(op string) error
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) Submit(_ context.Context, a Anchor) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		if err := m.Fail("submit"); err != nil {
			return "", err
		}
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(m.head[:])
	h.Write(a.Digest[:])
	copy(m.head[:], h.Sum(nil))
	ref := "0x" + hex.EncodeToString(m.head[:])
	m.entries[ref] = memoryEntry{anchor: a, block: uint64(len(m.order) + 1), at: m.now()}
	m.order = append(m.order, ref)
	return ref, nil
}

func (m *Memory) Receipt(_ context.Context, txRef string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		if err := m.Fail("receipt"); err != nil {
			return Receipt{}, err
		}
	}
	e, ok := m.entries[txRef]
	if !ok {
		return Receipt{}, ErrUnknownTx
	}
	return Receipt{TxReference: txRef, Block: e.block, ConfirmedAt: e.at}, nil
}

func (m *Memory) Payload(_ context.Context, txRef string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txRef]
	if !ok {
		return nil, ErrUnknownTx
	}
	return append([]byte(nil), e.anchor.Digest[:]...), nil
}

// Submissions returns every anchor written, in order.
func (m *Memory) Submissions() []Anchor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Anchor, 0, len(m.order))
	for _, ref := range m.order {
		out = append(out, m.entries[ref].anchor)
	}
	return out
}
