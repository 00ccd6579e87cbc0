package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInviteCodeRegistryGeneratesFromAlphabet(test *testing.T) {
	test.Parallel()
	registry := NewInviteCodeRegistry(5)
	registry.random = bytes.NewReader([]byte{0, 250, 26, 52, 61, 62, 7, 7, 7, 7})
	code, err := registry.generate()
	if err != nil {
		test.Fatalf("generate failed: %v", err)
	}
	if code != "aA09a" {
		test.Fatalf("expected %q, got %q", "aA09a", code)
	}
}

func TestInviteCodeRegistryCodesAreAlphanumeric(test *testing.T) {
	test.Parallel()
	registry := NewInviteCodeRegistry(8)
	for attempt := 0; attempt < 50; attempt++ {
		code, err := registry.generate()
		if err != nil {
			test.Fatalf("generate failed: %v", err)
		}
		if len(code) != 8 {
			test.Fatalf("expected length 8, got %q", code)
		}
		if _, err := NewInviteCodeValue(code); err != nil {
			test.Fatalf("generated code %q rejected: %v", code, err)
		}
	}
}

func TestInviteCodeRegistrySkipsTakenCodes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	ctx := context.Background()
	if _, err := store.InsertInviteCode(ctx, "aaaaa", 1); err != nil {
		test.Fatalf("seed code: %v", err)
	}
	registry := NewInviteCodeRegistry(5)
	registry.random = bytes.NewReader(append(bytes.Repeat([]byte{0}, 10), bytes.Repeat([]byte{1}, 10)...))
	inviteCode, err := registry.Create(ctx, store, 2)
	if err != nil {
		test.Fatalf("create failed: %v", err)
	}
	if inviteCode.Code != "bbbbb" || inviteCode.OwnerID != 2 || inviteCode.UseCount != 0 {
		test.Fatalf("unexpected invite code: %+v", inviteCode)
	}
}

func TestInviteCodeRegistryStopsOnReaderFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	registry := NewInviteCodeRegistry(5)
	registry.random = strings.NewReader("abc")
	_, err := registry.Create(context.Background(), store, 1)
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != "generate" {
		test.Fatalf("expected generate failure, got %v", err)
	}
}

func TestInviteCodeRegistryHonoursCancellation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewInviteCodeRegistry(5).Create(ctx, store, 1); !errors.Is(err, context.Canceled) {
		test.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInviteCodeRegistryRejectsOwnerlessCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	if _, err := NewInviteCodeRegistry(5).Create(context.Background(), store, 0); !errors.Is(err, ErrInvalidAccountID) {
		test.Fatalf("expected ErrInvalidAccountID, got %v", err)
	}
}

func TestInviteCodeLookup(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, WithRandomSource(bytes.NewReader(bytes.Repeat([]byte{3}, 10))))
	account := mustCreateAccount(test, service, "alice@example.com")
	if account.InviteCode != "ddddd" {
		test.Fatalf("expected deterministic code, got %q", account.InviteCode)
	}
	ctx := context.Background()
	for _, filter := range []InviteCodeFilter{{Code: "ddddd"}, {OwnerID: account.ID}, {ID: 1, OwnerID: account.ID}} {
		inviteCode, found, err := service.InviteCode(ctx, filter)
		if err != nil || !found || inviteCode.OwnerID != account.ID {
			test.Fatalf("filter %+v: unexpected result %+v found=%v err=%v", filter, inviteCode, found, err)
		}
	}
	if _, found, err := service.InviteCode(ctx, InviteCodeFilter{}); err != nil || found {
		test.Fatalf("expected empty filter to find nothing, got found=%v err=%v", found, err)
	}
	if _, found, _ := service.InviteCode(ctx, InviteCodeFilter{Code: "eeeee"}); found {
		test.Fatalf("expected unknown code to miss")
	}
}
