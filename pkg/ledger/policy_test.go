package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultPolicyIsValid(test *testing.T) {
	test.Parallel()
	if err := DefaultPolicy().Validate(); err != nil {
		test.Fatalf("default policy rejected: %v", err)
	}
}

func TestPolicyValidateRejects(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name   string
		mutate func(policy *Policy)
	}{
		{name: "zero code length", mutate: func(policy *Policy) { policy.InviteCodeLength = 0 }},
		{name: "negative max usage", mutate: func(policy *Policy) { policy.InviteCodeMaxUsage = -1 }},
		{name: "negative bind cashback", mutate: func(policy *Policy) { policy.InviteeBindCashbackCents = -1 }},
		{name: "percent above one", mutate: func(policy *Policy) { policy.RechargeCashbackPercent = decimal.RequireFromString("1.5") }},
		{name: "negative percent", mutate: func(policy *Policy) { policy.RechargeCashbackPercent = decimal.RequireFromString("-0.1") }},
		{name: "negative default balance", mutate: func(policy *Policy) { policy.DefaultBalanceCents = -300 }},
		{name: "unknown cycle check", mutate: func(policy *Policy) { policy.CycleCheck = "graph" }},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			policy := DefaultPolicy()
			testCase.mutate(&policy)
			if err := policy.Validate(); !errors.Is(err, ErrInvalidServiceConfig) {
				test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
			}
		})
	}
}

func TestRechargeCashbackFloorsToCents(test *testing.T) {
	test.Parallel()
	policy := DefaultPolicy()
	cases := map[AmountCents]AmountCents{1000: 50, 99: 4, 19: 0, 20: 1}
	for amount, want := range cases {
		if got := policy.rechargeCashback(amount); got != want {
			test.Fatalf("amount %d: expected %d, got %d", amount, want, got)
		}
	}
	policy.RechargeCashbackPercent = decimal.RequireFromString("0.333")
	if got := policy.rechargeCashback(100); got != 33 {
		test.Fatalf("expected 33, got %d", got)
	}
}
