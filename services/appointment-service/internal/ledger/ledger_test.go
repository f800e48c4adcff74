package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"regexp"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txRefPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func digestOf(b byte) [32]byte {
	var d [32]byte
	for i := range d {
		d[i] = b
	}
	return d
}

func TestMemoryChain(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ref1, err := m.Submit(ctx, Anchor{AppointmentID: "a-1", Digest: digestOf(1)})
	require.NoError(t, err)
	ref2, err := m.Submit(ctx, Anchor{AppointmentID: "a-2", Digest: digestOf(1)})
	require.NoError(t, err)

	assert.Regexp(t, txRefPattern, ref1)
	assert.NotEqual(t, ref1, ref2, "same digest at a different chain position gets a new reference")

	rcpt, err := m.Receipt(ctx, ref2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rcpt.Block)

	payload, err := m.Payload(ctx, ref1)
	require.NoError(t, err)
	d := digestOf(1)
	assert.Equal(t, d[:], payload)

	_, err = m.Receipt(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrUnknownTx)
	assert.Len(t, m.Submissions(), 2)
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory()
	offline := errors.New("offline")
	m.Fail = func(op string) error {
		if op == "submit" {
			return offline
		}
		return nil
	}
	_, err := m.Submit(context.Background(), Anchor{Digest: digestOf(2)})
	assert.ErrorIs(t, err, offline)
	assert.Empty(t, m.Submissions())
}

type fakeBackend struct {
	mu       sync.Mutex
	sent     map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	head     uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sent: map[common.Hash]*types.Transaction{}, receipts: map[common.Hash]*types.Receipt{}}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 22000, nil }

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[tx.Hash()] = tx
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.sent[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Time: 1749546000}, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) mine(h common.Hash, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[h] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(block)}
	f.head = block
}

// drop forgets a sent transaction, as a node does after mempool eviction.
func (f *fakeBackend) drop(h common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sent, h)
}

func newTestEthereum(t *testing.T, backend Backend, confirmations uint64) *Ethereum {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	e, err := NewEthereum(backend, EthereumConfig{
		PrivateKey:       "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		MinConfirmations: confirmations,
	})
	require.NoError(t, err)
	return e
}

func TestEthereumSubmitAndConfirm(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEthereum(t, backend, 2)
	ctx := context.Background()
	d := digestOf(7)

	ref, err := e.Submit(ctx, Anchor{AppointmentID: "a-1", Digest: d})
	require.NoError(t, err)
	assert.Regexp(t, txRefPattern, ref)

	tx := backend.sent[common.HexToHash(ref)]
	require.NotNil(t, tx)
	assert.Equal(t, e.Address(), *tx.To(), "self-anchoring when no notary address is set")
	assert.Zero(t, tx.Value().Sign())

	_, err = e.Receipt(ctx, ref)
	assert.ErrorIs(t, err, ErrPending, "not mined")

	backend.mine(common.HexToHash(ref), 10, types.ReceiptStatusSuccessful)
	_, err = e.Receipt(ctx, ref)
	assert.ErrorIs(t, err, ErrPending, "one confirmation of two")

	backend.mu.Lock()
	backend.head = 11
	backend.mu.Unlock()
	rcpt, err := e.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), rcpt.Block)

	payload, err := e.Payload(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, d[:], payload)
}

func TestEthereumRevertedIsRejected(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEthereum(t, backend, 1)
	ref, err := e.Submit(context.Background(), Anchor{Digest: digestOf(3)})
	require.NoError(t, err)

	backend.mine(common.HexToHash(ref), 4, types.ReceiptStatusFailed)
	_, err = e.Receipt(context.Background(), ref)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestEthereumDroppedTransactionIsRejected(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEthereum(t, backend, 1)
	ref, err := e.Submit(context.Background(), Anchor{Digest: digestOf(5)})
	require.NoError(t, err)

	_, err = e.Receipt(context.Background(), ref)
	require.ErrorIs(t, err, ErrPending, "known to the node, not yet mined")

	backend.drop(common.HexToHash(ref))
	_, err = e.Receipt(context.Background(), ref)
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrPending)
}

func TestNewEthereumValidatesConfig(t *testing.T) {
	_, err := NewEthereum(newFakeBackend(), EthereumConfig{PrivateKey: "zz"})
	assert.Error(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = NewEthereum(newFakeBackend(), EthereumConfig{
		PrivateKey:    hex.EncodeToString(crypto.FromECDSA(key)),
		NotaryAddress: "not-an-address",
	})
	assert.Error(t, err)
}

func TestEthereumReadOnly(t *testing.T) {
	backend := newFakeBackend()
	writer := newTestEthereum(t, backend, 1)
	ref, err := writer.Submit(context.Background(), Anchor{Digest: digestOf(9)})
	require.NoError(t, err)

	reader, err := NewEthereum(backend, EthereumConfig{})
	require.NoError(t, err)
	payload, err := reader.Payload(context.Background(), ref)
	require.NoError(t, err)
	d := digestOf(9)
	assert.Equal(t, d[:], payload)

	_, err = reader.Submit(context.Background(), Anchor{Digest: digestOf(1)})
	assert.ErrorIs(t, err, errReadOnly)
}
