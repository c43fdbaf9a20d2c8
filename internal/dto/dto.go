package dto

import (
	"time"

	"go-bridge/internal/models"
)

// QuoteQuery is the query-string form of a quote request.
type QuoteQuery struct {
	SourceChainID string `form:"source_chain" binding:"required"`
	DestChainID   string `form:"dest_chain" binding:"required"`
	TokenSymbol   string `form:"token" binding:"required"`
	Amount        string `form:"amount" binding:"required"`
}

// BridgeBody opens a transfer.
type BridgeBody struct {
	SourceChainID string `json:"source_chain_id" binding:"required"`
	DestChainID   string `json:"dest_chain_id" binding:"required"`
	TokenSymbol   string `json:"token_symbol" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Sender        string `json:"sender" binding:"required"`
	Recipient     string `json:"recipient" binding:"required"`
	Priority      string `json:"priority"`
	LockSeconds   int64  `json:"lock_seconds"`
}

// RelayBody is the relay network submission payload. Proof bytes arrive as
// integer arrays, amounts as decimal strings, timestamps as ISO-8601.
type RelayBody struct {
	TransactionID string              `json:"transaction_id" binding:"required"`
	SourceChainID string              `json:"source_chain_id" binding:"required"`
	DestChainID   string              `json:"dest_chain_id" binding:"required"`
	Proof         *models.BridgeProof `json:"proof" binding:"required"`
	Priority      string              `json:"priority"`
	MaxFee        string              `json:"max_fee"`
	ExpiresAt     string              `json:"expires_at"` // ISO-8601, optional
}

// ToRelayRequest converts the wire form into the internal request.
func (b *RelayBody) ToRelayRequest(now time.Time) (*models.RelayRequest, error) {
	req := &models.RelayRequest{
		TransactionID: b.TransactionID,
		SourceChainID: b.SourceChainID,
		DestChainID:   b.DestChainID,
		Proof:         b.Proof,
		Priority:      models.RelayPriority(b.Priority),
		MaxFee:        b.MaxFee,
		CreatedAt:     now,
	}
	if b.ExpiresAt != "" {
		expires, err := time.Parse(models.ISO8601, b.ExpiresAt)
		if err != nil {
			return nil, err
		}
		req.ExpiresAt = expires
	}
	return req, nil
}

// EstimateQuery asks for a relay time estimate.
type EstimateQuery struct {
	SourceChainID string `form:"source_chain" binding:"required"`
	DestChainID   string `form:"dest_chain" binding:"required"`
	Priority      string `form:"priority"`
}

// AdminLoginBody authenticates an operator.
type AdminLoginBody struct {
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}
