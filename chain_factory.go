package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"gorm.io/gorm"
)

var ErrUnsupportedChain = errors.New("unsupported chain")

const chainIDCheckTimeout = 10 * time.Second

// ensureExpectedChainID rejects a node whose reported chain ID does not
// match the configured one, catching swapped RPC endpoints at startup.
// Skipped outside production mode.
func ensureExpectedChainID(blockchain BlockchainConfig, reported *big.Int) error {
	if reported == nil || !reported.IsUint64() || reported.Uint64() != uint64(blockchain.ID) {
		return fmt.Errorf("node for %s reports chain ID %v, configured %d",
			blockchain.Name, reported, blockchain.ID)
	}
	return nil
}

// TransferMonitor is a chain's background transfer-detection task. Both the
// subscription-driven EVM variant and the polling Solana variant satisfy it,
// so consumers never care which transport feeds them.
type TransferMonitor interface {
	Run(ctx context.Context)
}

// ChainServices bundles everything one chain exposes to callers.
type ChainServices struct {
	Blockchain BlockchainConfig
	Adapter    ChainAdapter
	Payments   *PaymentService
	Wallet     *SecureWalletSession
	Monitor    TransferMonitor
}

// ChainServiceFactory is the single place chains are assembled and resolved.
// No other component may special-case a chain name.
type ChainServiceFactory struct {
	byName map[string]*ChainServices
	byID   map[uint32]*ChainServices
	logger Logger
}

// NewChainServiceFactory dials every enabled chain and assembles its service
// bundle. Rollup chains get their host chain's adapter as the fee surcharge
// source, so hosts are built first.
func NewChainServiceFactory(
	config *Config,
	db *gorm.DB,
	oracle *PriceOracle,
	matcher *SessionMatcher,
	metrics *Metrics,
	logger Logger,
) (*ChainServiceFactory, error) {
	f := &ChainServiceFactory{
		byName: make(map[string]*ChainServices),
		byID:   make(map[uint32]*ChainServices),
		logger: logger.NewSystem("chain-factory"),
	}

	var signer *Signer
	if config.walletKeyHex != "" {
		var err error
		signer, err = NewSigner(config.walletKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid wallet private key: %w", err)
		}
	}

	for _, blockchain := range config.blockchains {
		services, err := f.buildChain(config, db, oracle, matcher, metrics, signer, blockchain, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble chain %s: %w", blockchain.Name, err)
		}
		f.byName[blockchain.Name] = services
		f.byID[blockchain.ID] = services
	}

	// Second pass: wire host-chain fee sources into rollup payment services.
	for _, services := range f.byName {
		hostName := services.Blockchain.HostChain
		if hostName == "" {
			continue
		}
		host, ok := f.byName[hostName]
		if !ok {
			return nil, fmt.Errorf("host chain %s of %s is not enabled", hostName, services.Blockchain.Name)
		}
		services.Payments.hostAdapter = host.Adapter
		f.logger.Info("wired rollup fee surcharge source",
			"chain", services.Blockchain.Name, "hostChain", hostName)
	}

	return f, nil
}

func (f *ChainServiceFactory) buildChain(
	config *Config,
	db *gorm.DB,
	oracle *PriceOracle,
	matcher *SessionMatcher,
	metrics *Metrics,
	signer *Signer,
	blockchain BlockchainConfig,
	logger Logger,
) (*ChainServices, error) {
	var adapter ChainAdapter
	var monitor TransferMonitor

	switch blockchain.Kind {
	case ChainKindSolana:
		client := solanarpc.New(blockchain.BlockchainRPC)
		solanaAdapter, err := NewSolanaAdapter(client, blockchain, config.solanaKeyBase58, logger)
		if err != nil {
			return nil, err
		}
		solanaMonitor, err := NewSolanaMonitor(client, db, blockchain, config.assets, matcher, metrics, logger)
		if err != nil {
			return nil, err
		}
		adapter, monitor = solanaAdapter, solanaMonitor
	default:
		client, err := ethclient.Dial(blockchain.BlockchainRPC)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to blockchain node: %w", err)
		}
		if config.mode == ModeProduction {
			ctx, cancel := context.WithTimeout(context.Background(), chainIDCheckTimeout)
			reported, err := client.ChainID(ctx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("failed to query chain ID of %s: %w", blockchain.Name, err)
			}
			if err := ensureExpectedChainID(blockchain, reported); err != nil {
				return nil, err
			}
		}
		adapter = NewEVMAdapter(client, blockchain, signer, logger)
		monitor = NewEVMMonitor(client, db, blockchain, config.assets, matcher, metrics, logger)
	}

	payments := NewPaymentService(db, oracle, adapter, nil, blockchain, config.assets, config.fiatCurrency, metrics, logger)
	wallet := NewSecureWalletSession(db, blockchain, metrics, logger)

	f.logger.Info("chain assembled", "chain", blockchain.Name, "chainID", blockchain.ID, "kind", blockchain.Kind)
	return &ChainServices{
		Blockchain: blockchain,
		Adapter:    adapter,
		Payments:   payments,
		Wallet:     wallet,
		Monitor:    monitor,
	}, nil
}

// Resolve returns the service bundle for a chain name.
func (f *ChainServiceFactory) Resolve(chainName string) (*ChainServices, error) {
	services, ok := f.byName[chainName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, chainName)
	}
	return services, nil
}

// ResolveByID returns the service bundle for a chain ID.
func (f *ChainServiceFactory) ResolveByID(chainID uint32) (*ChainServices, error) {
	services, ok := f.byID[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", ErrUnsupportedChain, chainID)
	}
	return services, nil
}

// All returns every assembled chain.
func (f *ChainServiceFactory) All() []*ChainServices {
	all := make([]*ChainServices, 0, len(f.byName))
	for _, services := range f.byName {
		all = append(all, services)
	}
	return all
}

// Adapters returns the adapter of every assembled chain, keyed by chain ID.
func (f *ChainServiceFactory) Adapters() map[uint32]ChainAdapter {
	adapters := make(map[uint32]ChainAdapter, len(f.byID))
	for chainID, services := range f.byID {
		adapters[chainID] = services.Adapter
	}
	return adapters
}
