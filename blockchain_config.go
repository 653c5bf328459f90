package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	checkChainIdCallTimeout = 5 * time.Second
	defaultBlockStep        = uint64(10000)
	defaultPollInterval     = 10 * time.Second
	blockchainsFileName     = "blockchains.yaml"
)

var (
	blockchainNameRegex = regexp.MustCompile(`^[a-z][a-z_]+[a-z]$`)
	evmAddressRegex     = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	base58AddressRegex  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ChainKind selects the monitoring and adapter implementation for a chain.
type ChainKind string

const (
	// ChainKindEVM chains are watched through log subscriptions and confirm by block depth.
	ChainKindEVM ChainKind = "evm"
	// ChainKindSolana chains are watched by signature polling and confirm by slot depth.
	ChainKindSolana ChainKind = "solana"
)

// BlockchainsConfig represents the root configuration structure for all chain settings.
// It contains a default fee policy applied to chains that do not override it,
// and a list of individual chain configurations.
type BlockchainsConfig struct {
	DefaultFees FeePolicy          `yaml:"default_fees"`
	Blockchains []BlockchainConfig `yaml:"blockchains"`
}

// BlockchainConfig is the static, read-only policy for a single chain: how to
// reach it, where payments land, how settlement finality is judged and what a
// transfer costs. Policy values are copied into sessions at creation so later
// edits never affect in-flight payments.
type BlockchainConfig struct {
	// Name is the chain identifier (e.g., "ethereum", "polygon")
	// Must match pattern: lowercase letters and underscores only
	Name string `yaml:"name"`
	// ID is the chain ID used for RPC validation and session records.
	// Non-EVM chains carry a synthetic ID that never collides with EVM registry IDs.
	ID uint32 `yaml:"id"`
	// Kind selects the adapter and monitor implementation (default "evm")
	Kind ChainKind `yaml:"kind"`
	// Disabled determines if this chain should be connected
	Disabled bool `yaml:"disabled"`
	// BlockchainRPC is populated from environment variable <NAME>_BLOCKCHAIN_RPC
	BlockchainRPC string
	// ReceivingAddress is the custodial address incoming payments are sent to
	ReceivingAddress string `yaml:"receiving_address"`
	// NativeSymbol is the gas-paying asset of the chain (e.g., "ETH")
	NativeSymbol string `yaml:"native_symbol"`
	// NativeDecimals is the precision of the native asset
	NativeDecimals uint8 `yaml:"native_decimals"`
	// MinConfirmations is the settlement finality depth required before a
	// matched payment is considered completed
	MinConfirmations uint64 `yaml:"min_confirmations"`
	// ConfirmationLatency is the nominal seconds-to-settle shown to callers.
	// Used only for estimates, never for correctness.
	ConfirmationLatency uint32 `yaml:"confirmation_latency_seconds"`
	// AllowedNetworkIDs is the wallet network allow-list for this chain
	AllowedNetworkIDs []uint64 `yaml:"allowed_network_ids"`
	// BlockStep defines the block range for historical log scanning (default: 10000)
	BlockStep uint64 `yaml:"block_step"`
	// PollIntervalSeconds is the signature-polling cadence for non-EVM chains (default: 10)
	PollIntervalSeconds uint32 `yaml:"poll_interval_seconds"`
	// HostChain names the chain whose fee level drives the data-posting
	// surcharge for rollups; empty for non-rollup chains
	HostChain string `yaml:"host_chain"`
	// Fees can override the default fee policy
	Fees FeePolicy `yaml:"fees"`
}

// FeePolicy describes the flat fee model of a chain: a base cost in native
// units, a multiplier for token (non-native) transfers and a headroom factor
// for the reported maximum.
type FeePolicy struct {
	BaseFee        decimal.Decimal
	TokenFeeFactor decimal.Decimal
	MaxFeeFactor   decimal.Decimal
}

// UnmarshalYAML decodes fee amounts from their decimal string form.
func (p *FeePolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseFee        string `yaml:"base_fee"`
		TokenFeeFactor string `yaml:"token_fee_factor"`
		MaxFeeFactor   string `yaml:"max_fee_factor"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"base_fee", raw.BaseFee, &p.BaseFee},
		{"token_fee_factor", raw.TokenFeeFactor, &p.TokenFeeFactor},
		{"max_fee_factor", raw.MaxFeeFactor, &p.MaxFeeFactor},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return fmt.Errorf("invalid %s value '%s'", f.name, f.src)
		}
		*f.dst = d
	}
	return nil
}

// PollInterval returns the polling cadence for signature-based monitoring.
func (bc BlockchainConfig) PollInterval() time.Duration {
	if bc.PollIntervalSeconds == 0 {
		return defaultPollInterval
	}
	return time.Duration(bc.PollIntervalSeconds) * time.Second
}

// IsAllowedNetwork reports whether a wallet-reported network ID is inside the
// chain's allow-list.
func (bc BlockchainConfig) IsAllowedNetwork(networkID uint64) bool {
	for _, id := range bc.AllowedNetworkIDs {
		if id == networkID {
			return true
		}
	}
	return false
}

// LoadBlockchains loads and validates chain configurations from a YAML file.
// It reads from <configDirPath>/blockchains.yaml, validates all settings,
// verifies RPC connections, and returns a map of enabled chains indexed by chain ID.
//
// The function performs the following validations:
// - Chain names (lowercase with underscores)
// - Receiving address format (hex for EVM chains, base58 for Solana-kind chains)
// - Fee policy completeness (falling back to the default policy)
// - RPC endpoint availability and chain ID matching for EVM chains
func LoadBlockchains(configDirPath string) (map[uint32]BlockchainConfig, error) {
	blockchainsPath := filepath.Join(configDirPath, blockchainsFileName)
	f, err := os.Open(blockchainsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg BlockchainsConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return nil, err
	}

	if err := cfg.verifyRPCs(); err != nil {
		return nil, err
	}

	return cfg.getEnabled(), nil
}

// verifyVariables validates the configuration structure and applies defaults.
// This method modifies the config in place.
func (cfg *BlockchainsConfig) verifyVariables() error {
	for i, bc := range cfg.Blockchains {
		if bc.Disabled {
			continue
		}

		if !blockchainNameRegex.MatchString(bc.Name) {
			return fmt.Errorf("invalid blockchain name '%s', should match snake_case format", bc.Name)
		}

		if bc.Kind == "" {
			cfg.Blockchains[i].Kind = ChainKindEVM
			bc.Kind = ChainKindEVM
		} else if bc.Kind != ChainKindEVM && bc.Kind != ChainKindSolana {
			return fmt.Errorf("unknown chain kind '%s' for blockchain '%s'", bc.Kind, bc.Name)
		}

		switch bc.Kind {
		case ChainKindEVM:
			if !evmAddressRegex.MatchString(bc.ReceivingAddress) {
				return fmt.Errorf("invalid receiving address '%s' for blockchain '%s'", bc.ReceivingAddress, bc.Name)
			}
		case ChainKindSolana:
			if !base58AddressRegex.MatchString(bc.ReceivingAddress) {
				return fmt.Errorf("invalid receiving address '%s' for blockchain '%s'", bc.ReceivingAddress, bc.Name)
			}
		}

		if bc.NativeSymbol == "" {
			return fmt.Errorf("missing native symbol for blockchain '%s'", bc.Name)
		}
		if bc.NativeDecimals == 0 {
			return fmt.Errorf("missing native decimals for blockchain '%s'", bc.Name)
		}
		if bc.MinConfirmations == 0 {
			return fmt.Errorf("missing min confirmations for blockchain '%s'", bc.Name)
		}
		if len(bc.AllowedNetworkIDs) == 0 && bc.Kind == ChainKindEVM {
			return fmt.Errorf("missing allowed network IDs for blockchain '%s'", bc.Name)
		}

		if bc.BlockStep == 0 {
			cfg.Blockchains[i].BlockStep = defaultBlockStep
		}

		if bc.Fees.BaseFee.IsZero() {
			cfg.Blockchains[i].Fees.BaseFee = cfg.DefaultFees.BaseFee
		}
		if bc.Fees.TokenFeeFactor.IsZero() {
			cfg.Blockchains[i].Fees.TokenFeeFactor = cfg.DefaultFees.TokenFeeFactor
		}
		if bc.Fees.MaxFeeFactor.IsZero() {
			cfg.Blockchains[i].Fees.MaxFeeFactor = cfg.DefaultFees.MaxFeeFactor
		}
		if cfg.Blockchains[i].Fees.BaseFee.IsZero() {
			return fmt.Errorf("missing base fee for blockchain '%s'", bc.Name)
		}

		if bc.HostChain != "" {
			found := false
			for _, host := range cfg.Blockchains {
				if host.Name == bc.HostChain && !host.Disabled {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("host chain '%s' for blockchain '%s' is not an enabled blockchain", bc.HostChain, bc.Name)
			}
		}
	}

	return nil
}

// verifyRPCs validates RPC endpoints for all enabled chains.
// It reads RPC URLs from environment variables following the pattern:
// <BLOCKCHAIN_NAME_UPPERCASE>_BLOCKCHAIN_RPC
// and verifies that each EVM endpoint returns the expected chain ID.
func (cfg *BlockchainsConfig) verifyRPCs() error {
	for i, bc := range cfg.Blockchains {
		if bc.Disabled {
			continue
		}

		blockchainRPC := os.Getenv(fmt.Sprintf("%s_BLOCKCHAIN_RPC", strings.ToUpper(bc.Name)))
		if blockchainRPC == "" {
			return fmt.Errorf("missing blockchain RPC for blockchain '%s'", bc.Name)
		}

		if bc.Kind == ChainKindEVM {
			if err := checkChainId(blockchainRPC, bc.ID); err != nil {
				return fmt.Errorf("blockchain '%s' ChainID check failed: %w", bc.Name, err)
			}
		}

		cfg.Blockchains[i].BlockchainRPC = blockchainRPC
	}

	return nil
}

// getEnabled returns a map of enabled chains indexed by their chain ID.
func (cfg *BlockchainsConfig) getEnabled() map[uint32]BlockchainConfig {
	enabledBlockchains := make(map[uint32]BlockchainConfig)
	for _, bc := range cfg.Blockchains {
		if !bc.Disabled {
			enabledBlockchains[bc.ID] = bc
		}
	}
	return enabledBlockchains
}

// checkChainId connects to an RPC endpoint and verifies it returns the expected chain ID.
// This ensures the RPC URL points to the correct blockchain network.
func checkChainId(blockchainRPC string, expectedChainID uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), checkChainIdCallTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, blockchainRPC)
	if err != nil {
		return fmt.Errorf("failed to connect to blockchain RPC: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID from blockchain RPC: %w", err)
	}

	if uint32(chainID.Uint64()) != expectedChainID {
		return fmt.Errorf("unexpected chain ID from blockchain RPC: got %d, want %d", chainID.Uint64(), expectedChainID)
	}

	return nil
}
