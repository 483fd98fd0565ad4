// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"sync"
	"time"

	"github.com/vitwit/chainpay/types"
)

const (
	MerchantWallet = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	OtherWallet    = "0x2222222222222222222222222222222222222222"
	SenderWallet   = "0x1111111111111111111111111111111111111111"
	USDCContract   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

	SolanaWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	TxHash      = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	OtherTxHash = "0x0f6b0e7b0e6bbcb5d1b3e0b4bbf3a25d3e9fd2c8e2b07f28e4e2a0d7c3e1f5a9"
)

// EVMNetwork is an Ethereum-like network requiring 12 confirmations.
func EVMNetwork() types.NetworkConfig {
	return types.NetworkConfig{
		ID:                    "ethereum",
		Name:                  "Ethereum",
		Family:                types.ChainEVM,
		ChainID:               "1",
		NativeSymbol:          "ETH",
		NativeDecimals:        18,
		ConfirmationThreshold: 12,
		BlockTime:             12 * time.Second,
		MerchantWallet:        MerchantWallet,
		RPCEndpoints:          []string{"http://127.0.0.1:8545"},
		ExplorerURL:           "https://etherscan.io",
		Assets: []types.AssetConfig{
			{Symbol: "ETH", Decimals: 18, CoingeckoID: "ethereum", FallbackUSD: "1800"},
			{Symbol: "USDC", Decimals: 6, Contract: USDCContract, Stablecoin: true},
		},
	}
}

// SolanaNetwork is a Solana network accepting native SOL.
func SolanaNetwork() types.NetworkConfig {
	return types.NetworkConfig{
		ID:                    "solana",
		Name:                  "Solana",
		Family:                types.ChainSolana,
		ChainID:               "mainnet-beta",
		NativeSymbol:          "SOL",
		NativeDecimals:        9,
		ConfirmationThreshold: 32,
		BlockTime:             400 * time.Millisecond,
		MerchantWallet:        SolanaWallet,
		RPCEndpoints:          []string{"http://127.0.0.1:8899"},
		Assets: []types.AssetConfig{
			{Symbol: "SOL", Decimals: 9, CoingeckoID: "solana", FallbackUSD: "20"},
		},
	}
}

// Clock is a settable types.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Epoch is the default start time of test clocks.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
