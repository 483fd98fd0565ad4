package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"

	"github.com/vitwit/chainpay/types"
)

// ValidateTransactionHash checks the shape of a transaction hash for the
// given chain family without touching the network.
func ValidateTransactionHash(hash string, family types.ChainFamily) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}

	switch family {
	case types.ChainEVM:
		if !strings.HasPrefix(hash, "0x") && !strings.HasPrefix(hash, "0X") {
			return fmt.Errorf("EVM transaction hash must start with 0x")
		}
		if len(hash) != 66 {
			return fmt.Errorf("EVM transaction hash must be 66 characters long")
		}
		if _, err := hexutil.Decode("0x" + hash[2:]); err != nil {
			return fmt.Errorf("EVM transaction hash must be valid hex: %w", err)
		}

	case types.ChainSolana:
		if _, err := solana.SignatureFromBase58(hash); err != nil {
			return fmt.Errorf("invalid Solana transaction signature: %w", err)
		}

	default:
		return fmt.Errorf("unsupported chain family: %s", family)
	}

	return nil
}

// ValidateAddress validates a wallet or contract address for a chain family
func ValidateAddress(address string, family types.ChainFamily) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch family {
	case types.ChainEVM:
		if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address: %s", address)
		}

	case types.ChainSolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address %s: %w", address, err)
		}

	default:
		return fmt.Errorf("unsupported chain family: %s", family)
	}

	return nil
}
