package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TokenTransfer is a decoded token transfer carried by a transaction.
type TokenTransfer struct {
	Contract string          `json:"contract"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
}

// Transaction is a chain transaction normalized across families. Value is
// expressed in native asset units, never in base units.
type Transaction struct {
	Hash  string          `json:"hash"`
	From  string          `json:"from,omitempty"`
	To    string          `json:"to,omitempty"`
	Value decimal.Decimal `json:"value"`

	// BlockNumber is nil while the transaction is not yet included in a block.
	BlockNumber *uint64 `json:"blockNumber,omitempty"`

	Token *TokenTransfer `json:"token,omitempty"`
}

// Recipient returns the effective recipient and amount of the transaction for
// the given asset. ok is false when the transaction does not move that asset.
func (t *Transaction) Recipient(asset AssetConfig) (to string, amount decimal.Decimal, ok bool) {
	if asset.IsNative() {
		return t.To, t.Value, true
	}
	if t.Token == nil || !equalFoldAddress(t.Token.Contract, asset.Contract) {
		return "", decimal.Zero, false
	}
	return t.Token.To, t.Token.Amount, true
}

// Receipt is the execution outcome of a mined transaction.
type Receipt struct {
	Hash        string `json:"hash"`
	Success     bool   `json:"success"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Block is a block (or slot) with optionally its transactions.
type Block struct {
	Number       uint64         `json:"number"`
	Hash         string         `json:"hash,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Transactions []*Transaction `json:"transactions,omitempty"`
}

// Clock abstracts time for deterministic state transitions.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// NormalizeHash canonicalizes a transaction hash for comparison. Hex hashes
// are lower-cased; base58 signatures are case-sensitive and kept as-is.
func NormalizeHash(hash string) string {
	hash = strings.TrimSpace(hash)
	if strings.HasPrefix(hash, "0x") || strings.HasPrefix(hash, "0X") {
		return strings.ToLower(hash)
	}
	return hash
}
