package main

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory(ethereum, arbitrum *ChainServices) *ChainServiceFactory {
	return &ChainServiceFactory{
		byName: map[string]*ChainServices{
			"ethereum": ethereum,
			"arbitrum": arbitrum,
		},
		byID: map[uint32]*ChainServices{
			1:     ethereum,
			42161: arbitrum,
		},
		logger: NewLoggerIPFS("root.test"),
	}
}

func TestChainServiceFactory_Resolve(t *testing.T) {
	ethereum := &ChainServices{Blockchain: BlockchainConfig{Name: "ethereum", ID: 1}, Adapter: newMockAdapter(1)}
	arbitrum := &ChainServices{Blockchain: BlockchainConfig{Name: "arbitrum", ID: 42161}, Adapter: newMockAdapter(42161)}
	factory := testFactory(ethereum, arbitrum)

	t.Run("resolves a known chain by name", func(t *testing.T) {
		services, err := factory.Resolve("arbitrum")
		require.NoError(t, err)
		assert.Same(t, arbitrum, services)
	})

	t.Run("rejects an unknown chain name", func(t *testing.T) {
		_, err := factory.Resolve("dogechain")
		require.ErrorIs(t, err, ErrUnsupportedChain)
		assert.Contains(t, err.Error(), "dogechain")
	})

	t.Run("resolves a known chain by ID", func(t *testing.T) {
		services, err := factory.ResolveByID(1)
		require.NoError(t, err)
		assert.Same(t, ethereum, services)
	})

	t.Run("rejects an unknown chain ID", func(t *testing.T) {
		_, err := factory.ResolveByID(8453)
		require.ErrorIs(t, err, ErrUnsupportedChain)
	})
}

func TestEnsureExpectedChainID(t *testing.T) {
	ethereum := BlockchainConfig{Name: "ethereum", ID: 1}

	assert.NoError(t, ensureExpectedChainID(ethereum, big.NewInt(1)))

	err := ensureExpectedChainID(ethereum, big.NewInt(56))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports chain ID 56")

	assert.Error(t, ensureExpectedChainID(ethereum, nil))

	overflow := new(big.Int).Lsh(big.NewInt(1), 70)
	assert.Error(t, ensureExpectedChainID(ethereum, overflow))
}

func TestChainServiceFactory_All(t *testing.T) {
	ethereum := &ChainServices{Blockchain: BlockchainConfig{Name: "ethereum", ID: 1}, Adapter: newMockAdapter(1)}
	arbitrum := &ChainServices{Blockchain: BlockchainConfig{Name: "arbitrum", ID: 42161}, Adapter: newMockAdapter(42161)}
	factory := testFactory(ethereum, arbitrum)

	all := factory.All()
	require.Len(t, all, 2)
	assert.ElementsMatch(t, []*ChainServices{ethereum, arbitrum}, all)
}

func TestChainServiceFactory_Adapters(t *testing.T) {
	ethereum := &ChainServices{Blockchain: BlockchainConfig{Name: "ethereum", ID: 1}, Adapter: newMockAdapter(1)}
	arbitrum := &ChainServices{Blockchain: BlockchainConfig{Name: "arbitrum", ID: 42161}, Adapter: newMockAdapter(42161)}
	factory := testFactory(ethereum, arbitrum)

	adapters := factory.Adapters()
	require.Len(t, adapters, 2)
	assert.Equal(t, uint32(1), adapters[1].ChainID())
	assert.Equal(t, uint32(42161), adapters[42161].ChainID())
}
