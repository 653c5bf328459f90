package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TxLookup is the chain-agnostic view of a transaction's settlement progress.
type TxLookup struct {
	Found         bool
	Failed        bool
	Confirmations uint64
	BlockRef      uint64
}

// ChainAdapter is the thin per-chain capability surface. Everything above it
// (quoting, matching, sweeps) is chain-agnostic; everything below it is a
// chain RPC library.
type ChainAdapter interface {
	// ChainID returns the configured chain identifier.
	ChainID() uint32
	// GetBalance returns the native balance of an address in whole native units.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// GetFeeLevel returns the chain's current fee price in native units per
	// fee unit (per gas for EVM chains, per signature for Solana).
	GetFeeLevel(ctx context.Context) (decimal.Decimal, error)
	// GetTransaction looks up a transaction by its chain-native reference.
	GetTransaction(ctx context.Context, txRef string) (TxLookup, error)
	// EstimateGas estimates the fee units a native transfer would consume.
	EstimateGas(ctx context.Context, from, to string, amount decimal.Decimal) (uint64, error)
	// GetAccounts lists the addresses this adapter can sign for.
	GetAccounts(ctx context.Context) ([]string, error)
	// SignMessage signs an arbitrary message with the adapter's key.
	SignMessage(message []byte) (string, error)
	// VerifySignature checks a signature produced by SignMessage against an address.
	VerifySignature(address string, message []byte, signature string) (bool, error)
}

// EVMAdapter implements ChainAdapter on top of an Ethereum-compatible RPC client.
type EVMAdapter struct {
	client         Ethereum
	chainID        uint32
	nativeDecimals uint8
	signer         *Signer
	logger         Logger
}

var _ ChainAdapter = (*EVMAdapter)(nil)

func NewEVMAdapter(client Ethereum, blockchain BlockchainConfig, signer *Signer, logger Logger) *EVMAdapter {
	return &EVMAdapter{
		client:         client,
		chainID:        blockchain.ID,
		nativeDecimals: blockchain.NativeDecimals,
		signer:         signer,
		logger:         logger.NewSystem("evm-adapter").With("chainID", blockchain.ID),
	}
}

func (a *EVMAdapter) ChainID() uint32 {
	return a.chainID
}

func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !evmAddressRegex.MatchString(address) {
		return decimal.Zero, fmt.Errorf("malformed address '%s'", address)
	}

	balance, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return evmValueToDecimal(balance, a.nativeDecimals), nil
}

func (a *EVMAdapter) GetFeeLevel(ctx context.Context) (decimal.Decimal, error) {
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return evmValueToDecimal(gasPrice, a.nativeDecimals), nil
}

func (a *EVMAdapter) GetTransaction(ctx context.Context, txRef string) (TxLookup, error) {
	hash := common.HexToHash(txRef)

	_, pending, err := a.client.TransactionByHash(ctx, hash)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return TxLookup{}, nil
		}
		return TxLookup{}, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if pending {
		return TxLookup{Found: true}, nil
	}

	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return TxLookup{}, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return TxLookup{}, fmt.Errorf("failed to fetch block number: %w", err)
	}

	lookup := TxLookup{
		Found:    true,
		Failed:   receipt.Status == 0,
		BlockRef: receipt.BlockNumber.Uint64(),
	}
	if head >= lookup.BlockRef {
		lookup.Confirmations = head - lookup.BlockRef + 1
	}
	return lookup, nil
}

func (a *EVMAdapter) EstimateGas(ctx context.Context, from, to string, amount decimal.Decimal) (uint64, error) {
	toAddr := common.HexToAddress(to)
	value := amount.Shift(int32(a.nativeDecimals)).BigInt()

	gas, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  common.HexToAddress(from),
		To:    &toAddr,
		Value: value,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas, nil
}

func (a *EVMAdapter) GetAccounts(ctx context.Context) ([]string, error) {
	if a.signer == nil {
		return nil, nil
	}
	return []string{a.signer.GetAddress()}, nil
}

func (a *EVMAdapter) SignMessage(message []byte) (string, error) {
	if a.signer == nil {
		return "", fmt.Errorf("no signing key configured for chain %d", a.chainID)
	}
	sig, err := a.signer.Sign(message)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func (a *EVMAdapter) VerifySignature(address string, message []byte, signature string) (bool, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("malformed signature: %w", err)
	}

	recovered, err := RecoverAddress(message, sigBytes)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered, address), nil
}

// evmValueToDecimal converts a raw integer chain amount to whole units.
func evmValueToDecimal(value *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(value, -int32(decimals))
}
