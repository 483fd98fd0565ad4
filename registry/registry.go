// Package registry holds the static, validated configuration of every network
// the service accepts payments on.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

// Registry is an immutable lookup of network configurations.
type Registry struct {
	networks map[types.NetworkID]types.NetworkConfig
	ordered  []types.NetworkID
}

// New validates the given networks and freezes them into a Registry.
func New(networks []types.NetworkConfig) (*Registry, error) {
	if len(networks) == 0 {
		return nil, types.NewError(types.ErrConfigError, "at least one network must be configured")
	}

	r := &Registry{networks: make(map[types.NetworkID]types.NetworkConfig, len(networks))}
	for _, n := range networks {
		n = normalize(n)
		if err := validateNetwork(n); err != nil {
			return nil, types.WrapError(types.ErrConfigError, fmt.Sprintf("invalid network %q", n.ID), err)
		}
		if _, dup := r.networks[n.ID]; dup {
			return nil, types.Errorf(types.ErrConfigError, "duplicate network %q", n.ID)
		}
		r.networks[n.ID] = clone(n)
		r.ordered = append(r.ordered, n.ID)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i] < r.ordered[j] })

	return r, nil
}

// Get returns the configuration of a network.
func (r *Registry) Get(id types.NetworkID) (types.NetworkConfig, error) {
	n, ok := r.networks[types.NetworkID(strings.ToLower(string(id)))]
	if !ok {
		return types.NetworkConfig{}, types.UnknownNetwork(id)
	}
	return clone(n), nil
}

// Asset resolves an asset symbol on a network.
func (r *Registry) Asset(id types.NetworkID, symbol string) (types.NetworkConfig, types.AssetConfig, error) {
	n, err := r.Get(id)
	if err != nil {
		return types.NetworkConfig{}, types.AssetConfig{}, err
	}
	a, ok := n.Asset(symbol)
	if !ok {
		return types.NetworkConfig{}, types.AssetConfig{}, types.Errorf(types.ErrUnsupportedAsset,
			"asset %s is not supported on network %s", symbol, id)
	}
	return n, a, nil
}

// List returns every configured network sorted by id.
func (r *Registry) List() []types.NetworkConfig {
	out := make([]types.NetworkConfig, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, clone(r.networks[id]))
	}
	return out
}

func normalize(n types.NetworkConfig) types.NetworkConfig {
	n.ID = types.NetworkID(strings.ToLower(strings.TrimSpace(string(n.ID))))
	n.Family = types.ChainFamily(strings.ToLower(string(n.Family)))
	n.NativeSymbol = strings.ToUpper(n.NativeSymbol)
	if n.Name == "" {
		n.Name = string(n.ID)
	}
	n.Assets = append([]types.AssetConfig(nil), n.Assets...)
	for i := range n.Assets {
		n.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(n.Assets[i].Symbol))
	}
	return n
}

func validateNetwork(n types.NetworkConfig) error {
	if n.ID == "" {
		return fmt.Errorf("network id is required")
	}
	if !n.Family.IsEVM() && !n.Family.IsSolana() {
		return fmt.Errorf("unsupported chain family %q", n.Family)
	}
	if len(n.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one rpc endpoint is required")
	}
	for _, ep := range n.RPCEndpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("empty rpc endpoint")
		}
	}
	if n.ConfirmationThreshold < 1 {
		return fmt.Errorf("confirmation threshold must be at least 1")
	}
	if err := utils.ValidateAddress(n.MerchantWallet, n.Family); err != nil {
		return fmt.Errorf("merchant wallet: %w", err)
	}
	if n.NativeSymbol == "" {
		return fmt.Errorf("native symbol is required")
	}
	if len(n.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}

	seen := make(map[string]bool, len(n.Assets))
	for _, a := range n.Assets {
		if err := validateAsset(n, a); err != nil {
			return fmt.Errorf("asset %s: %w", a.Symbol, err)
		}
		if seen[a.Symbol] {
			return fmt.Errorf("duplicate asset %s", a.Symbol)
		}
		seen[a.Symbol] = true
	}
	return nil
}

func validateAsset(n types.NetworkConfig, a types.AssetConfig) error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if a.Decimals < 0 || a.Decimals > 36 {
		return fmt.Errorf("decimals out of range: %d", a.Decimals)
	}
	if a.DisplayPrecision < 0 {
		return fmt.Errorf("display precision cannot be negative")
	}
	if a.IsNative() {
		if a.Symbol != n.NativeSymbol {
			return fmt.Errorf("native asset must be %s", n.NativeSymbol)
		}
		if a.Decimals != n.NativeDecimals {
			return fmt.Errorf("native asset decimals must match network (%d)", n.NativeDecimals)
		}
	} else {
		if n.Family.IsSolana() {
			return fmt.Errorf("token assets are not supported on solana networks")
		}
		if err := utils.ValidateAddress(a.Contract, n.Family); err != nil {
			return fmt.Errorf("contract: %w", err)
		}
	}
	if !a.Stablecoin && a.CoingeckoID == "" && a.FallbackUSD == "" {
		return fmt.Errorf("non-stable assets need a coingecko id or a fallback price")
	}
	if a.FallbackUSD != "" {
		p, err := decimal.NewFromString(a.FallbackUSD)
		if err != nil || !p.IsPositive() {
			return fmt.Errorf("invalid fallback price %q", a.FallbackUSD)
		}
	}
	return nil
}

func clone(n types.NetworkConfig) types.NetworkConfig {
	n.RPCEndpoints = append([]string(nil), n.RPCEndpoints...)
	n.Assets = append([]types.AssetConfig(nil), n.Assets...)
	return n
}
