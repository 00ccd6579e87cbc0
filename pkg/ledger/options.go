package ledger

import (
	"context"
	"io"
)

// AccountLocker serializes mutating operations on one account across processes.
type AccountLocker interface {
	LockAccount(ctx context.Context, accountID AccountID) (unlock func(), err error)
}

// WithAccountLocker wraps every single-account mutation in locker.
func WithAccountLocker(locker AccountLocker) ServiceOption {
	return func(service *Service) {
		service.locker = locker
	}
}

// WithRandomSource replaces the invite code randomness (crypto/rand by default).
func WithRandomSource(source io.Reader) ServiceOption {
	return func(service *Service) {
		if source != nil {
			service.registry.random = source
		}
	}
}
