package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAssetsConfig_verifyVariables tests the validation logic for asset configuration
func TestAssetsConfig_verifyVariables(t *testing.T) {
	t.Run("missing asset symbol", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Symbol: "", // Missing symbol
				},
			},
		}
		err := cfg.verifyVariables()
		require.Error(t, err)
		assert.Equal(t, "missing asset symbol for asset[0]", err.Error())
	})

	t.Run("missing token address", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Name:   "USD Coin",
					Symbol: "USDC",
					Tokens: []TokenConfig{
						{
							Name:         "USD Coin",
							Symbol:       "USDC",
							BlockchainID: 1,
							Address:      "", // Missing address
						},
					},
				},
			},
		}
		err := cfg.verifyVariables()
		require.Error(t, err)
		assert.Equal(t, "missing USD Coin token address for blockchain with id 1", err.Error())
	})

	t.Run("invalid token address", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Name:   "USD Coin",
					Symbol: "USDC",
					Tokens: []TokenConfig{
						{
							Name:         "USD Coin",
							Symbol:       "USDC",
							BlockchainID: 1,
							Address:      "0xinvalid",
						},
					},
				},
			},
		}
		err := cfg.verifyVariables()
		require.Error(t, err)
		assert.Equal(t, "invalid USD Coin token address '0xinvalid' for blockchain with id 1", err.Error())
	})

	t.Run("base58 mint address is accepted", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Name:   "Tether",
					Symbol: "USDT",
					Tokens: []TokenConfig{
						{
							BlockchainID: 900,
							Address:      "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
							Decimals:     6,
						},
					},
				},
			},
		}
		require.NoError(t, cfg.verifyVariables())
	})

	t.Run("native token must not carry an address", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Name:   "Ether",
					Symbol: "ETH",
					Tokens: []TokenConfig{
						{
							BlockchainID: 1,
							Native:       true,
							Address:      "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
						},
					},
				},
			},
		}
		err := cfg.verifyVariables()
		require.Error(t, err)
		assert.Equal(t, "native token Ether must not carry a contract address", err.Error())
	})

	t.Run("native token without address is valid", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Symbol: "ETH",
					Tokens: []TokenConfig{
						{
							BlockchainID: 1,
							Native:       true,
							Decimals:     18,
						},
					},
				},
			},
		}
		require.NoError(t, cfg.verifyVariables())
		assert.Equal(t, "ETH", cfg.Assets[0].Name)
	})

	t.Run("custom symbol for token", func(t *testing.T) {
		cfg := AssetsConfig{
			Assets: []AssetConfig{
				{
					Name:   "USD Coin",
					Symbol: "USDC",
					Tokens: []TokenConfig{
						{
							Name:         "Bridged USDC",
							Symbol:       "", // Should inherit "USDC" from asset
							BlockchainID: 137,
							Address:      "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
						},
					},
				},
			},
		}
		err := cfg.verifyVariables()
		require.NoError(t, err)
		assert.Equal(t, "USDC", cfg.Assets[0].Tokens[0].Symbol)
	})
}

// TestAssetsConfig_GetAssetTokenByAddressAndChainID tests the asset token lookup
func TestAssetsConfig_GetAssetTokenByAddressAndChainID(t *testing.T) {
	cfg := AssetsConfig{
		Assets: []AssetConfig{
			{
				Name:       "USD Coin",
				Symbol:     "USDC",
				Stablecoin: true,
				Tokens: []TokenConfig{
					{
						Name:         "USD Coin",
						Symbol:       "USDC",
						BlockchainID: 1,
						Address:      "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
						Decimals:     6,
					},
					{
						Name:         "USD Coin",
						Symbol:       "USDC",
						BlockchainID: 137,
						Disabled:     true, // Disabled token
						Address:      "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
						Decimals:     6,
					},
				},
			},
			{
				Name:       "Tether",
				Symbol:     "USDT",
				Stablecoin: true,
				Disabled:   true, // Disabled asset
				Tokens: []TokenConfig{
					{
						Name:         "Tether",
						Symbol:       "USDT",
						BlockchainID: 1,
						Address:      "0xdac17f958d2ee523a2206206994597c13d831ec7",
						Decimals:     6,
					},
				},
			},
		},
	}

	t.Run("not found", func(t *testing.T) {
		result, found := cfg.GetAssetTokenByAddressAndChainID("0x0000000000000000000000000000000000000000", 1)
		assert.False(t, found)
		assert.Equal(t, AssetTokenConfig{}, result)
	})

	t.Run("token disabled", func(t *testing.T) {
		result, found := cfg.GetAssetTokenByAddressAndChainID("0x2791bca1f2de4661ed88a30c99a7a9449aa84174", 137)
		assert.False(t, found)
		assert.Equal(t, AssetTokenConfig{}, result)
	})

	t.Run("asset disabled", func(t *testing.T) {
		result, found := cfg.GetAssetTokenByAddressAndChainID("0xdac17f958d2ee523a2206206994597c13d831ec7", 1)
		assert.False(t, found)
		assert.Equal(t, AssetTokenConfig{}, result)
	})

	t.Run("address lookup is case-insensitive", func(t *testing.T) {
		result, found := cfg.GetAssetTokenByAddressAndChainID("0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48", 1)
		assert.True(t, found)

		assert.Equal(t, "USD Coin", result.Name)
		assert.Equal(t, "USDC", result.Symbol)
		assert.True(t, result.Stablecoin)
		assert.Equal(t, uint32(1), result.Token.BlockchainID)
		assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", result.Token.Address)
		assert.Equal(t, uint8(6), result.Token.Decimals)
	})
}

func TestAssetsConfig_GetAssetTokenBySymbolAndChainID(t *testing.T) {
	cfg := AssetsConfig{
		Assets: []AssetConfig{
			{
				Symbol: "ETH",
				Name:   "Ether",
				Tokens: []TokenConfig{
					{Symbol: "ETH", BlockchainID: 1, Native: true, Decimals: 18},
					{Symbol: "ETH", BlockchainID: 42161, Native: true, Decimals: 18},
				},
			},
		},
	}

	t.Run("case-insensitive symbol match", func(t *testing.T) {
		result, found := cfg.GetAssetTokenBySymbolAndChainID("eth", 42161)
		require.True(t, found)
		assert.Equal(t, uint32(42161), result.Token.BlockchainID)
		assert.True(t, result.Token.Native)
	})

	t.Run("symbol on wrong chain", func(t *testing.T) {
		_, found := cfg.GetAssetTokenBySymbolAndChainID("ETH", 56)
		assert.False(t, found)
	})
}

func TestAssetsConfig_GetNativeAssetByChainID(t *testing.T) {
	cfg := AssetsConfig{
		Assets: []AssetConfig{
			{
				Symbol:     "USDC",
				Stablecoin: true,
				Tokens: []TokenConfig{
					{BlockchainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
				},
			},
			{
				Symbol: "ETH",
				Tokens: []TokenConfig{
					{BlockchainID: 1, Native: true, Decimals: 18},
				},
			},
		},
	}

	result, found := cfg.GetNativeAssetByChainID(1)
	require.True(t, found)
	assert.Equal(t, "ETH", result.Symbol)
	assert.True(t, result.Token.Native)

	_, found = cfg.GetNativeAssetByChainID(56)
	assert.False(t, found)
}

// TestAssetsConfig_GetAssetTokensByChainID tests retrieving all tokens for a blockchain
func TestAssetsConfig_GetAssetTokensByChainID(t *testing.T) {
	cfg := AssetsConfig{
		Assets: []AssetConfig{
			{
				Name:       "USD Coin",
				Symbol:     "USDC",
				Stablecoin: true,
				Tokens: []TokenConfig{
					{
						Name:         "USD Coin",
						Symbol:       "USDC",
						BlockchainID: 1,
						Address:      "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
						Decimals:     6,
					},
					{
						Name:         "USD Coin",
						Symbol:       "USDC",
						BlockchainID: 1,
						Disabled:     true, // Disabled token on same chain
						Address:      "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb49",
						Decimals:     6,
					},
				},
			},
			{
				Name:     "Tether",
				Symbol:   "USDT",
				Disabled: true, // Disabled asset
				Tokens: []TokenConfig{
					{
						Name:         "Tether",
						Symbol:       "USDT",
						BlockchainID: 1,
						Address:      "0xdac17f958d2ee523a2206206994597c13d831ec7",
						Decimals:     6,
					},
				},
			},
			{
				Name:   "Ether",
				Symbol: "ETH",
				Tokens: []TokenConfig{
					{
						Name:         "Ether",
						Symbol:       "ETH",
						BlockchainID: 1,
						Native:       true,
						Decimals:     18,
					},
				},
			},
		},
	}

	t.Run("not found", func(t *testing.T) {
		tokens := cfg.GetAssetTokensByChainID(999)
		assert.Empty(t, tokens)
	})

	t.Run("filters disabled", func(t *testing.T) {
		tokens := cfg.GetAssetTokensByChainID(1)

		require.Len(t, tokens, 2)

		assert.Equal(t, "USD Coin", tokens[0].Name)
		assert.Equal(t, "USDC", tokens[0].Symbol)
		assert.True(t, tokens[0].Stablecoin)
		assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", tokens[0].Token.Address)

		assert.Equal(t, "Ether", tokens[1].Name)
		assert.Equal(t, "ETH", tokens[1].Symbol)
		assert.True(t, tokens[1].Token.Native)
	})
}
