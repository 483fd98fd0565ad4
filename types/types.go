package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	StatusPending             InvoiceStatus = "pending"
	StatusPendingConfirmation InvoiceStatus = "pending_confirmation"
	StatusConfirmed           InvoiceStatus = "confirmed"
	StatusExpired             InvoiceStatus = "expired"
)

// IsTerminal reports whether no further transitions are possible.
func (s InvoiceStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusExpired
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// PriceSource records where the price used for an invoice came from.
type PriceSource string

const (
	PriceSourceFeed     PriceSource = "feed"
	PriceSourceCache    PriceSource = "cache"
	PriceSourceFallback PriceSource = "fallback"
	PriceSourceStable   PriceSource = "stable"
)

// Quote is a USD price for an asset.
type Quote struct {
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"priceUsd"`
	Source    PriceSource     `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Invoice is a time-boxed request for a fixed crypto amount.
type Invoice struct {
	ID              string    `json:"id"`
	OrganizationRef string    `json:"organizationRef"`
	Purpose         string    `json:"purpose"`
	Network         NetworkID `json:"network"`
	AssetSymbol     string    `json:"assetSymbol"`

	USDValue       decimal.Decimal `json:"usdValue"`
	PriceUSD       decimal.Decimal `json:"priceUsd"`
	PriceSource    PriceSource     `json:"priceSource"`
	RequiredAmount decimal.Decimal `json:"requiredAmount"`
	WalletAddress  string          `json:"walletAddress"`

	Status               InvoiceStatus    `json:"status"`
	TransactionHash      *string          `json:"transactionHash,omitempty"`
	Confirmations        *uint64          `json:"confirmations,omitempty"`
	ActualAmountReceived *decimal.Decimal `json:"actualAmountReceived,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsExpiredAt reports whether the payment window has closed at now.
func (inv *Invoice) IsExpiredAt(now time.Time) bool {
	return now.After(inv.ExpiresAt)
}

// HasHash reports whether hash matches the transaction already accepted for
// the invoice.
func (inv *Invoice) HasHash(hash string) bool {
	return inv.TransactionHash != nil && NormalizeHash(*inv.TransactionHash) == NormalizeHash(hash)
}

// ConfirmationCount returns the stored confirmation count, or 0.
func (inv *Invoice) ConfirmationCount() uint64 {
	if inv.Confirmations == nil {
		return 0
	}
	return *inv.Confirmations
}

// Clone returns a deep copy of the invoice.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	if inv.TransactionHash != nil {
		h := *inv.TransactionHash
		c.TransactionHash = &h
	}
	if inv.Confirmations != nil {
		n := *inv.Confirmations
		c.Confirmations = &n
	}
	if inv.ActualAmountReceived != nil {
		a := *inv.ActualAmountReceived
		c.ActualAmountReceived = &a
	}
	if inv.ConfirmedAt != nil {
		t := *inv.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if inv.ActivatedAt != nil {
		t := *inv.ActivatedAt
		c.ActivatedAt = &t
	}
	return &c
}

// CreateInvoiceRequest is the input of invoice creation.
type CreateInvoiceRequest struct {
	USDValue        decimal.Decimal `json:"usd_value" validate:"required,positive"`
	AssetSymbol     string          `json:"asset_symbol" validate:"required,max=16"`
	NetworkID       NetworkID       `json:"network_id" validate:"required,max=64"`
	Purpose         string          `json:"purpose" validate:"required,max=128"`
	OrganizationRef string          `json:"organization_ref" validate:"required,max=128"`
	TTLMinutes      int             `json:"ttl_minutes" validate:"omitempty,min=1,max=1440"`
}

// PaymentInstructions tells the payer what to send where.
type PaymentInstructions struct {
	Network     string `json:"network"`
	NetworkName string `json:"networkName"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Wallet      string `json:"wallet"`
	PaymentURI  string `json:"paymentUri"`
	Text        string `json:"text"`
	ExpiresAt   string `json:"expiresAt"`
}

// InvoiceResponse is an invoice together with its payment instructions.
type InvoiceResponse struct {
	Invoice      *Invoice             `json:"invoice"`
	Instructions *PaymentInstructions `json:"instructions"`
}

// VerifyRequest asks for verification of a claimed payment.
type VerifyRequest struct {
	InvoiceID       string `json:"invoice_id" validate:"required"`
	TransactionHash string `json:"transaction_hash" validate:"required,max=128"`
}

// VerificationResult is the outcome of verifying a transaction against an
// invoice. Verification failures are reported through IsValid/ErrorCode and
// never as Go errors.
type VerificationResult struct {
	IsValid       bool   `json:"isValid"`
	ErrorCode     string `json:"errorCode,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`

	InvoiceID             string        `json:"invoiceId"`
	Status                InvoiceStatus `json:"status"`
	TransactionHash       string        `json:"transactionHash,omitempty"`
	Confirmations         uint64        `json:"confirmations"`
	RequiredConfirmations uint64        `json:"requiredConfirmations"`
	AmountReceived        string        `json:"amountReceived,omitempty"`
	AmountRequired        string        `json:"amountRequired"`
	Confirmed             bool          `json:"confirmed"`
	Recipient             string        `json:"recipient,omitempty"`
	Sender                string        `json:"sender,omitempty"`
	ExplorerURL           string        `json:"explorerUrl,omitempty"`
}

// ScanCandidate is an inbound transfer that may pay an invoice.
type ScanCandidate struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"blockNumber"`
	From        string `json:"from,omitempty"`
	Amount      string `json:"amount"`
}

// ScanCheckpoint records where a backward block scan stopped so it can resume.
type ScanCheckpoint struct {
	Network   NetworkID `json:"network"`
	Head      uint64    `json:"head"`
	Next      uint64    `json:"next"`
	Remaining int       `json:"remaining"`
	// Skip counts transactions of block Next, newest first, already examined.
	Skip int `json:"skip,omitempty"`
}

// Done reports whether the scan has no blocks left to visit.
func (c ScanCheckpoint) Done() bool {
	return c.Remaining <= 0
}

// ScanResult lists candidate transactions found by a passive check.
type ScanResult struct {
	InvoiceID  string          `json:"invoiceId,omitempty"`
	Candidates []ScanCandidate `json:"candidates"`
	Scanned    int             `json:"scanned"`
	Complete   bool            `json:"complete"`
	Checkpoint ScanCheckpoint  `json:"checkpoint"`
}
