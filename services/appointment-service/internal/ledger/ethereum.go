package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of *ethclient.Client the adapter needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type EthereumConfig struct {
	RPCURL           string
	PrivateKey       string // hex, with or without 0x
	MinConfirmations uint64

	// NotaryAddress receives the anchoring transactions. Defaults to the
	// signer's own address.
	NotaryAddress string
}

// Ethereum anchors digests as the calldata of zero-value transactions.
type Ethereum struct {
	backend       Backend
	key           *ecdsa.PrivateKey
	from          common.Address
	to            common.Address
	confirmations uint64

	mu      sync.Mutex // serializes nonce allocation
	chainID *big.Int
}

func DialEthereum(ctx context.Context, cfg EthereumConfig) (*Ethereum, func(), error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	e, err := NewEthereum(client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return e, client.Close, nil
}

// NewEthereum builds a ledger on backend. Without a PrivateKey the
// ledger is read-only: Receipt and Payload work, Submit fails.
func NewEthereum(backend Backend, cfg EthereumConfig) (*Ethereum, error) {
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return &Ethereum{backend: backend, confirmations: cfg.MinConfirmations}, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := from
	if cfg.NotaryAddress != "" {
		if !common.IsHexAddress(cfg.NotaryAddress) {
			return nil, fmt.Errorf("ledger notary address %q is not a hex address", cfg.NotaryAddress)
		}
		to = common.HexToAddress(cfg.NotaryAddress)
	}
	return &Ethereum{backend: backend, key: key, from: from, to: to, confirmations: cfg.MinConfirmations}, nil
}

func (e *Ethereum) Address() common.Address { return e.from }

func (e *Ethereum) Submit(ctx context.Context, a Anchor) (string, error) {
	if e.key == nil {
		return "", errReadOnly
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chainID == nil {
		id, err := e.backend.ChainID(ctx)
		if err != nil {
			return "", fmt.Errorf("chain id: %w", err)
		}
		e.chainID = id
	}
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	to := e.to
	data := append([]byte(nil), a.Digest[:]...)
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func (e *Ethereum) Receipt(ctx context.Context, txRef string) (Receipt, error) {
	hash := common.HexToHash(txRef)
	rcpt, err := e.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{}, e.unmined(ctx, hash)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: %w", err)
	}
	if rcpt.Status == types.ReceiptStatusFailed {
		return Receipt{}, fmt.Errorf("%w: %s reverted", ErrRejected, txRef)
	}
	head, err := e.backend.BlockNumber(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("block number: %w", err)
	}
	block := rcpt.BlockNumber.Uint64()
	if head < block || head-block+1 < e.confirmations {
		return Receipt{}, ErrPending
	}
	confirmedAt := time.Now().UTC()
	if header, err := e.backend.HeaderByNumber(ctx, rcpt.BlockNumber); err == nil {
		confirmedAt = time.Unix(int64(header.Time), 0).UTC()
	}
	return Receipt{TxReference: txRef, Block: block, ConfirmedAt: confirmedAt}, nil
}

// unmined classifies a transaction without a receipt: still pending if the
// node knows it, rejected if it was dropped from the mempool and must be
// submitted again.
func (e *Ethereum) unmined(ctx context.Context, hash common.Hash) error {
	_, _, err := e.backend.TransactionByHash(ctx, hash)
	switch {
	case err == nil:
		return ErrPending
	case errors.Is(err, ethereum.NotFound):
		return fmt.Errorf("%w: %s dropped by the node", ErrRejected, hash.Hex())
	default:
		return fmt.Errorf("transaction: %w", err)
	}
}

func (e *Ethereum) Payload(ctx context.Context, txRef string) ([]byte, error) {
	tx, _, err := e.backend.TransactionByHash(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrUnknownTx
	}
	if err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	return tx.Data(), nil
}
