package types

import (
	"strings"
	"time"
)

// NetworkID identifies a configured blockchain network (e.g. "ethereum", "polygon").
type NetworkID string

func (n NetworkID) String() string {
	return string(n)
}

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

// DefaultDisplayPrecision is the number of decimal places invoice amounts are
// truncated to when an asset does not configure its own precision.
const DefaultDisplayPrecision = 6

// AssetConfig describes an asset accepted on a network.
type AssetConfig struct {
	Symbol string `json:"symbol" yaml:"symbol"`

	// Decimals is the on-chain precision of the asset (18 for ETH, 6 for USDC).
	Decimals int32 `json:"decimals" yaml:"decimals"`

	// Contract is the token contract address; empty for the native asset.
	Contract string `json:"contract,omitempty" yaml:"contract,omitempty"`

	CoingeckoID string `json:"coingeckoId,omitempty" yaml:"coingecko_id,omitempty"`
	Stablecoin  bool   `json:"stablecoin,omitempty" yaml:"stablecoin,omitempty"`

	// FallbackUSD is used when the price feed cannot be reached.
	FallbackUSD string `json:"fallbackUsd,omitempty" yaml:"fallback_usd,omitempty"`

	DisplayPrecision int32 `json:"displayPrecision,omitempty" yaml:"display_precision,omitempty"`
}

// IsNative reports whether the asset is the network's base currency.
func (a AssetConfig) IsNative() bool {
	return a.Contract == ""
}

// Precision returns the number of decimal places required amounts are truncated to.
func (a AssetConfig) Precision() int32 {
	p := a.DisplayPrecision
	if p <= 0 {
		p = DefaultDisplayPrecision
	}
	if a.Decimals < p {
		return a.Decimals
	}
	return p
}

// NetworkConfig is the static configuration of a single network.
type NetworkConfig struct {
	ID                    NetworkID     `json:"id" yaml:"id"`
	Name                  string        `json:"name" yaml:"name"`
	Family                ChainFamily   `json:"family" yaml:"family"`
	ChainID               string        `json:"chainId" yaml:"chain_id"`
	NativeSymbol          string        `json:"nativeSymbol" yaml:"native_symbol"`
	NativeDecimals        int32         `json:"nativeDecimals" yaml:"native_decimals"`
	ConfirmationThreshold uint64        `json:"confirmationThreshold" yaml:"confirmation_threshold"`
	BlockTime             time.Duration `json:"blockTime" yaml:"block_time"`
	MerchantWallet        string        `json:"merchantWallet" yaml:"merchant_wallet"`
	RPCEndpoints          []string      `json:"-" yaml:"rpc_endpoints"`
	ExplorerURL           string        `json:"explorerUrl,omitempty" yaml:"explorer_url,omitempty"`
	Assets                []AssetConfig `json:"assets" yaml:"assets"`
}

// Asset returns the configured asset with the given symbol (case-insensitive).
func (n NetworkConfig) Asset(symbol string) (AssetConfig, bool) {
	for _, a := range n.Assets {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// AssetByContract returns the token asset deployed at contract, if configured.
func (n NetworkConfig) AssetByContract(contract string) (AssetConfig, bool) {
	if contract == "" {
		return AssetConfig{}, false
	}
	for _, a := range n.Assets {
		if a.Contract != "" && strings.EqualFold(a.Contract, contract) {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// TxURL returns an explorer link for a transaction, or "" when no explorer is configured.
func (n NetworkConfig) TxURL(hash string) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}

func (f ChainFamily) IsEVM() bool {
	return f == ChainEVM
}

func (f ChainFamily) IsSolana() bool {
	return f == ChainSolana
}

// SameAddress compares two addresses using the family's rules: EVM addresses
// are hex and compared case-insensitively, Solana base58 keys are exact.
func (f ChainFamily) SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if f == ChainSolana {
		return a == b
	}
	return equalFoldAddress(a, b)
}

func equalFoldAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
