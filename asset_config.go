package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	assetsFileName = "assets.yaml"
)

// AssetTokenConfig represents a combination of asset metadata and a specific token instance.
// This is returned by lookup functions to provide both asset-level and token-level information.
type AssetTokenConfig struct {
	// Name is the human-readable name of the asset (e.g., "USD Coin")
	Name string
	// Symbol is the ticker symbol for the asset (e.g., "USDC")
	Symbol string
	// Stablecoin marks fiat-pegged assets, which are quoted through the
	// fiat cross-rate instead of a crypto price feed
	Stablecoin bool
	// Token contains the chain-specific token instance
	Token TokenConfig
}

// AssetsConfig represents the root configuration structure for all asset settings.
// It contains a list of assets, each of which can have multiple token representations
// across different chains.
type AssetsConfig struct {
	Assets []AssetConfig `yaml:"assets"`
}

// AssetConfig represents configuration for a single asset (e.g., USDC, USDT).
// An asset can have multiple token representations across different chains.
type AssetConfig struct {
	// Name is the human-readable name of the asset (e.g., "USD Coin")
	// If empty, it will inherit the Symbol value during validation
	Name string `yaml:"name"`
	// Symbol is the ticker symbol for the asset (e.g., "USDC")
	// This field is required for enabled assets
	Symbol string `yaml:"symbol"`
	// Disabled determines if this asset should be processed
	Disabled bool `yaml:"disabled"`
	// Stablecoin marks fiat-pegged assets
	Stablecoin bool `yaml:"stablecoin"`
	// Tokens contains the chain-specific token instances
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig represents a payable instance of an asset on one chain.
// Native assets carry an empty contract address.
type TokenConfig struct {
	// Name is the token name on this chain (e.g., "Bridged USDC")
	// If empty, it will inherit from the parent asset's Name
	Name string `yaml:"name"`
	// Symbol is the token symbol on this chain
	// If empty, it will inherit from the parent asset's Symbol
	Symbol string `yaml:"symbol"`
	// BlockchainID is the chain ID where this token is payable
	BlockchainID uint32 `yaml:"blockchain_id"`
	// Disabled determines if this token should be processed
	Disabled bool `yaml:"disabled"`
	// Native marks the chain's base currency; native tokens have no address
	Native bool `yaml:"native"`
	// Address is the token's contract address on the chain.
	// Hex for EVM chains, base58 mint address for Solana-kind chains, empty for native assets.
	Address string `yaml:"address"`
	// Decimals is the number of decimal places for the token
	Decimals uint8 `yaml:"decimals"`
	// MinFiatAmount is the smallest fiat amount payable in this token
	MinFiatAmount float64 `yaml:"min_fiat_amount"`
}

// LoadAssets loads and validates asset configurations from a YAML file.
// It reads from <configDirPath>/assets.yaml, validates all settings,
// and returns the parsed configuration.
func LoadAssets(configDirPath string) (AssetsConfig, error) {
	assetsPath := filepath.Join(configDirPath, assetsFileName)
	f, err := os.Open(assetsPath)
	if err != nil {
		return AssetsConfig{}, err
	}
	defer f.Close()

	var cfg AssetsConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return AssetsConfig{}, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return AssetsConfig{}, err
	}

	return cfg, nil
}

// verifyVariables validates the configuration structure and applies defaults:
// - Asset symbols are required for enabled assets
// - Asset names default to symbols if not specified
// - Token names and symbols inherit from parent asset if not specified
// - Non-native tokens must carry a contract address; native tokens must not
func (cfg *AssetsConfig) verifyVariables() error {
	for i, asset := range cfg.Assets {
		if asset.Disabled {
			continue
		}

		if asset.Symbol == "" {
			return fmt.Errorf("missing asset symbol for asset[%d]", i)
		}
		if asset.Name == "" {
			cfg.Assets[i].Name = asset.Symbol
		}

		asset = cfg.Assets[i]
		for j, token := range asset.Tokens {
			if token.Disabled {
				continue
			}

			if token.Symbol == "" {
				cfg.Assets[i].Tokens[j].Symbol = asset.Symbol
			}
			if token.Name == "" {
				cfg.Assets[i].Tokens[j].Name = asset.Name
			}

			token = cfg.Assets[i].Tokens[j]
			if token.Native {
				if token.Address != "" {
					return fmt.Errorf("native token %s must not carry a contract address", token.Name)
				}
				continue
			}
			if token.Address == "" {
				return fmt.Errorf("missing %s token address for blockchain with id %d", token.Name, token.BlockchainID)
			}
			if !evmAddressRegex.MatchString(token.Address) && !base58AddressRegex.MatchString(token.Address) {
				return fmt.Errorf("invalid %s token address '%s' for blockchain with id %d", token.Name, token.Address, token.BlockchainID)
			}
		}
	}

	return nil
}

// GetAssetTokenByAddressAndChainID looks up a token by its contract address and chain ID.
// The second return value indicates whether the token was found.
// Only enabled assets and tokens are considered in the search.
func (cfg AssetsConfig) GetAssetTokenByAddressAndChainID(tokenAddress string, chainID uint32) (AssetTokenConfig, bool) {
	for _, asset := range cfg.Assets {
		if asset.Disabled {
			continue
		}

		for _, token := range asset.Tokens {
			if token.Disabled {
				continue
			}

			if token.BlockchainID == chainID && strings.EqualFold(token.Address, tokenAddress) {
				return AssetTokenConfig{
					Name:       asset.Name,
					Symbol:     asset.Symbol,
					Stablecoin: asset.Stablecoin,
					Token:      token,
				}, true
			}
		}
	}

	return AssetTokenConfig{}, false
}

// GetAssetTokenBySymbolAndChainID looks up a token by its asset symbol and chain ID.
// The second return value indicates whether the token was found.
func (cfg AssetsConfig) GetAssetTokenBySymbolAndChainID(symbol string, chainID uint32) (AssetTokenConfig, bool) {
	for _, asset := range cfg.Assets {
		if asset.Disabled || !strings.EqualFold(asset.Symbol, symbol) {
			continue
		}

		for _, token := range asset.Tokens {
			if !token.Disabled && token.BlockchainID == chainID {
				return AssetTokenConfig{
					Name:       asset.Name,
					Symbol:     asset.Symbol,
					Stablecoin: asset.Stablecoin,
					Token:      token,
				}, true
			}
		}
	}

	return AssetTokenConfig{}, false
}

// GetNativeAssetByChainID returns the native asset of a chain, if configured.
func (cfg AssetsConfig) GetNativeAssetByChainID(chainID uint32) (AssetTokenConfig, bool) {
	for _, asset := range cfg.Assets {
		if asset.Disabled {
			continue
		}

		for _, token := range asset.Tokens {
			if !token.Disabled && token.BlockchainID == chainID && token.Native {
				return AssetTokenConfig{
					Name:       asset.Name,
					Symbol:     asset.Symbol,
					Stablecoin: asset.Stablecoin,
					Token:      token,
				}, true
			}
		}
	}

	return AssetTokenConfig{}, false
}

// GetAssetTokensByChainID returns all enabled tokens payable on the specified chain.
// The result includes both asset-level and token-level information for each token.
func (cfg AssetsConfig) GetAssetTokensByChainID(chainID uint32) []AssetTokenConfig {
	var tokens []AssetTokenConfig
	for _, asset := range cfg.Assets {
		if asset.Disabled {
			continue
		}

		for _, token := range asset.Tokens {
			if !token.Disabled && token.BlockchainID == chainID {
				tokens = append(tokens, AssetTokenConfig{
					Name:       asset.Name,
					Symbol:     asset.Symbol,
					Stablecoin: asset.Stablecoin,
					Token:      token,
				})
			}
		}
	}
	return tokens
}
