package invoice

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

// Instructions renders what the payer must send, including a payment URI
// suitable for a QR code.
func (m *Manager) Instructions(inv *types.Invoice) (*types.PaymentInstructions, error) {
	network, asset, err := m.networks.Asset(inv.Network, inv.AssetSymbol)
	if err != nil {
		return nil, err
	}

	uri, err := PaymentURI(network, asset, inv)
	if err != nil {
		return nil, err
	}

	amount := inv.RequiredAmount.StringFixed(asset.Precision())
	return &types.PaymentInstructions{
		Network:     network.ID.String(),
		NetworkName: network.Name,
		Asset:       asset.Symbol,
		Amount:      amount,
		Wallet:      inv.WalletAddress,
		PaymentURI:  uri,
		Text: fmt.Sprintf("Send exactly %s %s on %s to %s before %s.",
			amount, asset.Symbol, network.Name, inv.WalletAddress, inv.ExpiresAt.UTC().Format(time.RFC1123)),
		ExpiresAt: inv.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// PaymentURI builds an EIP-681 link for EVM networks and a Solana Pay link
// for Solana.
func PaymentURI(network types.NetworkConfig, asset types.AssetConfig, inv *types.Invoice) (string, error) {
	switch network.Family {
	case types.ChainEVM:
		units := utils.ToBaseUnits(inv.RequiredAmount, asset.Decimals)
		if asset.IsNative() {
			return fmt.Sprintf("ethereum:%s@%s?value=%s", inv.WalletAddress, network.ChainID, units.String()), nil
		}
		return fmt.Sprintf("ethereum:%s@%s/transfer?address=%s&uint256=%s",
			asset.Contract, network.ChainID, inv.WalletAddress, units.String()), nil

	case types.ChainSolana:
		q := url.Values{}
		q.Set("amount", inv.RequiredAmount.String())
		if inv.Purpose != "" {
			q.Set("label", inv.Purpose)
		}
		q.Set("message", "Invoice "+inv.ID)
		return fmt.Sprintf("solana:%s?%s", inv.WalletAddress, strings.ReplaceAll(q.Encode(), "+", "%20")), nil

	default:
		return "", types.Errorf(types.ErrUnknownNetwork, "no payment uri scheme for family %s", network.Family)
	}
}
