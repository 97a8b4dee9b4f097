package model

import (
	"errors"
	"math/big"
	"time"
)

// ErrInvestmentClosed is returned when mutating an investment that was fully withdrawn
var ErrInvestmentClosed = errors.New("investment is closed")

// Investment is a wallet's position in one opportunity.
// OpportunityID is the identity reference; Opportunity is a routing copy only.
type Investment struct {
	OpportunityID  string           `json:"opportunityId"`
	Opportunity    YieldOpportunity `json:"opportunity"`
	WalletAddress  string           `json:"walletAddress"`
	EntryAmount    *big.Int         `json:"entryAmount"`
	ReceiptBalance *big.Int         `json:"receiptBalance,omitempty"`
	Closed         bool             `json:"closed"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"`
}

// NewInvestment records a position after a successful deposit
func NewInvestment(opp YieldOpportunity, wallet string, amount *big.Int) Investment {
	return Investment{
		OpportunityID: opp.ID,
		Opportunity:   opp,
		WalletAddress: wallet,
		EntryAmount:   new(big.Int).Set(amount),
	}
}

// ApplyWithdrawal reduces the recorded entry amount. Withdrawing the full amount
// or more closes the investment; a closed investment cannot be reopened.
func (i *Investment) ApplyWithdrawal(amount *big.Int) error {
	if i.Closed {
		return ErrInvestmentClosed
	}
	if i.EntryAmount == nil || amount.Cmp(i.EntryAmount) >= 0 {
		now := time.Now()
		i.EntryAmount = new(big.Int)
		i.Closed = true
		i.ClosedAt = &now
		return nil
	}
	i.EntryAmount = new(big.Int).Sub(i.EntryAmount, amount)
	return nil
}
