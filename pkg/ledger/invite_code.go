package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// alphabetRejectionBound is the largest multiple of len(inviteCodeAlphabet) that fits a byte.
const alphabetRejectionBound = 256 - 256%len(inviteCodeAlphabet)

// InviteCodeRegistry issues and resolves referral tokens.
type InviteCodeRegistry struct {
	length int
	random io.Reader
}

// NewInviteCodeRegistry returns a registry generating codes of the given length.
func NewInviteCodeRegistry(length int) *InviteCodeRegistry {
	return &InviteCodeRegistry{length: length, random: rand.Reader}
}

// Create issues a fresh code for owner inside store's unit of work.
// Generation repeats until an unused code is inserted; the unique index on the code column decides
// races between concurrent issuers.
func (registry *InviteCodeRegistry) Create(ctx context.Context, store Store, ownerID AccountID) (InviteCode, error) {
	if ownerID.IsZero() {
		return InviteCode{}, fmt.Errorf("%w: invite code owner is required", ErrInvalidAccountID)
	}
	for {
		if err := ctx.Err(); err != nil {
			return InviteCode{}, err
		}
		code, err := registry.generate()
		if err != nil {
			return InviteCode{}, WrapError("registry", "invite_code", "generate", err)
		}
		_, taken, err := store.FindInviteCode(ctx, InviteCodeFilter{Code: code})
		if err != nil {
			return InviteCode{}, err
		}
		if taken {
			continue
		}
		inviteCode, err := store.InsertInviteCode(ctx, code, ownerID)
		if errors.Is(err, ErrInviteCodeExists) {
			continue
		}
		if err != nil {
			return InviteCode{}, err
		}
		return inviteCode, nil
	}
}

// Get resolves an invite code by id, code or owner. An empty filter finds nothing.
func (registry *InviteCodeRegistry) Get(ctx context.Context, store Store, filter InviteCodeFilter) (InviteCode, bool, error) {
	if filter.IsEmpty() {
		return InviteCode{}, false, nil
	}
	return store.FindInviteCode(ctx, filter)
}

func (registry *InviteCodeRegistry) generate() (string, error) {
	code := make([]byte, 0, registry.length)
	buffer := make([]byte, registry.length*2)
	for len(code) < registry.length {
		if _, err := io.ReadFull(registry.random, buffer); err != nil {
			return "", err
		}
		for _, value := range buffer {
			if int(value) >= alphabetRejectionBound {
				continue
			}
			code = append(code, inviteCodeAlphabet[int(value)%len(inviteCodeAlphabet)])
			if len(code) == registry.length {
				break
			}
		}
	}
	return string(code), nil
}
