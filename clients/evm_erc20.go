package clients

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

const erc20TransferABI = `[{
	"name": "transfer",
	"type": "function",
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"}
	],
	"outputs": [{"name": "", "type": "bool"}]
}]`

var transferMethod = mustTransferMethod()

func mustTransferMethod() abi.Method {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(err)
	}
	return parsed.Methods["transfer"]
}

// decodeERC20Transfer decodes transfer(address,uint256) call data sent to
// asset's contract. Other calls are ignored.
func decodeERC20Transfer(input []byte, asset types.AssetConfig) (*types.TokenTransfer, bool) {
	if len(input) < 4 || !bytes.Equal(input[:4], transferMethod.ID) {
		return nil, false
	}

	args, err := transferMethod.Inputs.Unpack(input[4:])
	if err != nil || len(args) != 2 {
		return nil, false
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return nil, false
	}
	value, ok := args[1].(*big.Int)
	if !ok {
		return nil, false
	}

	return &types.TokenTransfer{
		Contract: strings.ToLower(asset.Contract),
		To:       strings.ToLower(to.Hex()),
		Amount:   utils.FromBaseUnits(value, asset.Decimals),
	}, true
}
