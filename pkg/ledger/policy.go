package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CycleCheck selects how deep the circular-referral check looks.
type CycleCheck string

const (
	// CycleCheckDirect rejects only an owner that is an immediate invitee of the binding account.
	CycleCheckDirect CycleCheck = "direct"
	// CycleCheckAncestors rejects an owner whose inviter chain contains the binding account.
	CycleCheckAncestors CycleCheck = "ancestors"
)

// Policy carries the billing and referral settings every ledger operation consults.
type Policy struct {
	InviteCodeLength   int
	InviteCodeMaxUsage int

	BindCashbackEnabled      bool
	InviterBindCashbackCents AmountCents
	InviteeBindCashbackCents AmountCents

	RechargeCashbackEnabled bool
	RechargeCashbackPercent decimal.Decimal

	DefaultBalanceCents AmountCents
	DefaultBillingRate  int

	CycleCheck CycleCheck
}

// DefaultPolicy mirrors the platform defaults.
func DefaultPolicy() Policy {
	return Policy{
		InviteCodeLength:         5,
		InviteCodeMaxUsage:       30,
		BindCashbackEnabled:      true,
		InviterBindCashbackCents: 100,
		InviteeBindCashbackCents: 100,
		RechargeCashbackEnabled:  true,
		RechargeCashbackPercent:  decimal.RequireFromString("0.05"),
		DefaultBalanceCents:      300,
		DefaultBillingRate:       100,
		CycleCheck:               CycleCheckAncestors,
	}
}

// Validate reports the first inconsistent setting.
func (policy Policy) Validate() error {
	if policy.InviteCodeLength <= 0 {
		return fmt.Errorf("%w: invite code length must be positive", ErrInvalidServiceConfig)
	}
	if policy.InviteCodeMaxUsage < 0 {
		return fmt.Errorf("%w: invite code max usage must not be negative", ErrInvalidServiceConfig)
	}
	if policy.InviterBindCashbackCents < 0 || policy.InviteeBindCashbackCents < 0 {
		return fmt.Errorf("%w: bind cashback must not be negative", ErrInvalidServiceConfig)
	}
	if policy.RechargeCashbackPercent.IsNegative() || policy.RechargeCashbackPercent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: recharge cashback percent must be within [0, 1]", ErrInvalidServiceConfig)
	}
	if policy.DefaultBalanceCents < 0 {
		return fmt.Errorf("%w: default balance must not be negative", ErrInvalidServiceConfig)
	}
	switch policy.CycleCheck {
	case CycleCheckDirect, CycleCheckAncestors:
	default:
		return fmt.Errorf("%w: unknown cycle check %q", ErrInvalidServiceConfig, policy.CycleCheck)
	}
	return nil
}

// rechargeCashback is the inviter's share of an invitee recharge, rounded down to whole cents.
func (policy Policy) rechargeCashback(amount AmountCents) AmountCents {
	share := decimal.NewFromInt(amount.Int64()).Mul(policy.RechargeCashbackPercent).Floor()
	return AmountCents(share.IntPart())
}
