package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	DefaultReceiptPollInterval = 2 * time.Second
	defaultGasLimit            = uint64(300000)
)

// Signer produces signed transactions for one account. A wallet that
// declines returns ErrUserRejected.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// KeySigner signs with a local private key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	address common.Address
}

// NewKeySigner parses a hex private key for the given chain
func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySignerFromKey(key, chainID), nil
}

// NewKeySignerFromKey wraps an already parsed key
func NewKeySignerFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *KeySigner {
	return &KeySigner{
		key:     key,
		chainID: chainID,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *KeySigner) Address() common.Address { return s.address }

func (s *KeySigner) SignTx(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Transactor submits calls for the connected account and waits for them
// to be mined. It never resubmits: a submitted transaction may still land
// after the caller gives up waiting.
type Transactor struct {
	gateway      *Gateway
	signer       Signer
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewTransactor binds a signer to a gateway
func NewTransactor(gateway *Gateway, signer Signer, logger *slog.Logger) *Transactor {
	return &Transactor{
		gateway:      gateway,
		signer:       signer,
		pollInterval: DefaultReceiptPollInterval,
		logger:       logger,
	}
}

// SetPollInterval changes how often receipts are polled
func (t *Transactor) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// Gateway returns the gateway the transactor writes through
func (t *Transactor) Gateway() *Gateway { return t.gateway }

// Account returns the connected account
func (t *Transactor) Account() common.Address {
	if t.signer == nil {
		return common.Address{}
	}
	return t.signer.Address()
}

// Send builds, signs and submits call without waiting for it to be mined
func (t *Transactor) Send(ctx context.Context, call Call) (*types.Transaction, error) {
	if t.signer == nil {
		return nil, ErrNoSigner
	}
	backend := t.gateway.Backend()
	from := t.signer.Address()

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: from, To: &call.To, Value: call.Value, Data: call.Data}
	gasLimit, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		// The node simulated the call and the contract rejected it, e.g. an
		// expired deadline or a slippage bound that can no longer be met.
		if IsRevert(err) {
			return nil, &TransactionError{Kind: KindRevert, Reason: RevertReason(err), Err: err}
		}
		t.logger.Warn("gas estimation failed, using default limit", "label", call.Label, "err", err)
		gasLimit = defaultGasLimit
	} else {
		gasLimit = gasLimit * 120 / 100 // Add 20% buffer
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    call.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signed, err := t.signer.SignTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	t.logger.Info("transaction submitted", "label", call.Label, "hash", signed.Hash().Hex(), "nonce", nonce)
	return signed, nil
}

// WaitMined polls for the receipt of tx. A reverted receipt is turned into
// a TransactionError carrying the contract's reason when it can be recovered.
func (t *Transactor) WaitMined(ctx context.Context, tx *types.Transaction, call Call) (*types.Receipt, error) {
	backend := t.gateway.Backend()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, tx.Hash())
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				t.logger.Info("transaction confirmed", "label", call.Label, "hash", tx.Hash().Hex(), "block", receipt.BlockNumber)
				return receipt, nil
			}
			return receipt, &TransactionError{
				Kind:   KindRevert,
				Reason: t.replayRevertReason(ctx, call, receipt),
				TxHash: tx.Hash(),
			}
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			t.logger.Debug("receipt lookup failed, retrying", "hash", tx.Hash().Hex(), "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("stopped waiting for %s: %w", tx.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// replayRevertReason re-executes a failed call at its block to recover the reason string
func (t *Transactor) replayRevertReason(ctx context.Context, call Call, receipt *types.Receipt) string {
	from := t.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &call.To, Value: call.Value, Data: call.Data}
	_, err := t.gateway.Backend().CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return "transaction reverted"
	}
	return RevertReason(err)
}

// Execute sends call and waits for its confirmation
func (t *Transactor) Execute(ctx context.Context, call Call) (*types.Receipt, error) {
	tx, err := t.Send(ctx, call)
	if err != nil {
		return nil, err
	}
	return t.WaitMined(ctx, tx, call)
}

// NeedsApproval reports whether spender's allowance on token is below amount
func (t *Transactor) NeedsApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (bool, error) {
	if t.signer == nil {
		return false, ErrNoSigner
	}
	allowance, err := t.gateway.Allowance(ctx, token, t.signer.Address(), spender)
	if err != nil {
		return false, fmt.Errorf("failed to read allowance: %w", err)
	}
	return allowance.Cmp(amount) < 0, nil
}

// Approve grants spender an unbounded allowance on token and waits for it to be mined
func (t *Transactor) Approve(ctx context.Context, token, spender common.Address) (*types.Receipt, error) {
	call, err := t.gateway.ApproveCall(token, spender, math.MaxBig256)
	if err != nil {
		return nil, err
	}
	return t.Execute(ctx, call)
}
