package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service contains the account and referral logic over a Store.
type Service struct {
	store    Store
	policy   Policy
	nowFn    func() time.Time
	registry *InviteCodeRegistry
	stats    DailyStatsAggregator
	loggers  []OperationLogger
	locker   AccountLocker
}

// NewService wires a Service.
func NewService(store Store, policy Policy, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	service := &Service{
		store:    store,
		policy:   policy,
		nowFn:    now,
		registry: NewInviteCodeRegistry(policy.InviteCodeLength),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Policy returns the settings the service was built with.
func (service *Service) Policy() Policy {
	return service.policy
}

// Create registers an account together with its invite code.
func (service *Service) Create(ctx context.Context, identifiers Identifiers) (Account, error) {
	var account Account
	operationError := service.create(ctx, identifiers, &account)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreate,
		AccountID: account.ID,
		Error:     operationError,
	})
	return account, operationError
}

func (service *Service) create(ctx context.Context, identifiers Identifiers, created *Account) error {
	if identifiers.IsEmpty() {
		return ErrMissingIdentifier
	}
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		for _, field := range identifiers.Fields() {
			_, exists, err := transactionStore.FindAccount(ctx, AccountFilter{Identifiers: singleIdentifier(field)})
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s %q", ErrAccountExists, field.Name, field.Value)
			}
		}
		account, err := transactionStore.InsertAccount(ctx, NewAccount{
			UUID:               uuid.New(),
			Identifiers:        identifiers,
			BalanceCents:       service.policy.DefaultBalanceCents,
			GiftedBalanceCents: service.policy.DefaultBalanceCents,
			BillingRate:        service.policy.DefaultBillingRate,
		})
		if err != nil {
			return err
		}
		inviteCode, err := service.registry.Create(ctx, transactionStore, account.ID)
		if err != nil {
			return err
		}
		account.InviteCode = inviteCode.Code
		*created = account
		return nil
	})
}

// Get finds one account by equality on the populated filter fields.
// An empty filter or an unparsable uuid finds nothing.
func (service *Service) Get(ctx context.Context, filter AccountFilter) (Account, bool, error) {
	if filter.IsEmpty() {
		return Account{}, false, nil
	}
	if rawUUID := strings.TrimSpace(filter.UUID); rawUUID != "" {
		parsed, err := uuid.Parse(rawUUID)
		if err != nil {
			return Account{}, false, nil
		}
		filter.UUID = parsed.String()
	}
	return service.store.FindAccount(ctx, filter)
}

// Invitees lists the accounts bound to accountID's invite code.
func (service *Service) Invitees(ctx context.Context, accountID AccountID) ([]Account, error) {
	if accountID.IsZero() {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidAccountID)
	}
	return service.store.ListInvitees(ctx, accountID)
}

// InviteCode resolves an invite code by id, code or owner.
func (service *Service) InviteCode(ctx context.Context, filter InviteCodeFilter) (InviteCode, bool, error) {
	return service.registry.Get(ctx, service.store, filter)
}

// DailyStats returns the counters of day's calendar date, creating the row on first access.
func (service *Service) DailyStats(ctx context.Context, day time.Time) (DailyStats, error) {
	var stats DailyStats
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		bucket, err := service.stats.GetOrCreate(ctx, transactionStore, day)
		if err != nil {
			return err
		}
		stats = bucket
		return nil
	})
	return stats, err
}

// Today returns the counters of the current calendar date.
func (service *Service) Today(ctx context.Context) (DailyStats, error) {
	return service.DailyStats(ctx, service.nowFn())
}

// Charge credits amountCents to the account. A recharge may pay the inviter a one-level bonus.
func (service *Service) Charge(ctx context.Context, accountID AccountID, amountCents int64, kind ChargeKind) error {
	operationError := service.charge(ctx, accountID, amountCents, kind)
	service.logOperation(ctx, OperationLog{
		Operation: operationCharge,
		AccountID: accountID,
		Amount:    AmountCents(amountCents),
		Kind:      string(kind),
		Error:     operationError,
	})
	return operationError
}

func (service *Service) charge(ctx context.Context, accountID AccountID, amountCents int64, kind ChargeKind) error {
	amount, err := NewAmountCents(amountCents)
	if err != nil {
		return err
	}
	if _, err := ParseChargeKind(string(kind)); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if service.locker == nil || kind != ChargeKindCharge || !service.policy.RechargeCashbackEnabled {
		return service.withAccountTx(ctx, accountID, func(ctx context.Context, transactionStore Store) error {
			return service.applyCharge(ctx, transactionStore, accountID, amount, kind)
		})
	}
	if accountID.IsZero() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAccountID)
	}
	// A recharge may credit the inviter as well, so both accounts are locked.
	// inviter_id is set at most once; a bind landing before the locks are held forces one more pass.
	for {
		inviterID, err := service.peekInviter(ctx, accountID)
		if err != nil {
			return err
		}
		err = service.withAccountsTx(ctx, accountID, []AccountID{inviterID}, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			if account.InviterID != inviterID {
				return errInviterChanged
			}
			return service.applyCharge(ctx, transactionStore, accountID, amount, kind)
		})
		if !errors.Is(err, errInviterChanged) {
			return err
		}
	}
}

// peekInviter reads the inviter outside any unit of work; zero when unbound or unknown.
func (service *Service) peekInviter(ctx context.Context, accountID AccountID) (AccountID, error) {
	account, found, err := service.store.FindAccount(ctx, AccountFilter{ID: accountID})
	if err != nil || !found {
		return 0, err
	}
	return account.InviterID, nil
}

func (service *Service) applyCharge(ctx context.Context, transactionStore Store, accountID AccountID, amount AmountCents, kind ChargeKind) error {
	account, err := transactionStore.LockAccount(ctx, accountID)
	if err != nil {
		return err
	}
	account.BalanceCents += amount
	delta := DailyStatsDelta{}
	switch kind {
	case ChargeKindCharge:
		account.TotalRechargedCents += amount
		delta.RechargedAmountCents = amount
	case ChargeKindBonus:
		account.GiftedBalanceCents += amount
		account.TotalBonusCents += amount
		delta.BonusAmountCents = amount
	default:
		return fmt.Errorf("%w: %q", ErrInvalidChargeKind, kind)
	}
	if err := transactionStore.UpdateAccount(ctx, account); err != nil {
		return err
	}
	if err := service.stats.Add(ctx, transactionStore, service.nowFn(), delta); err != nil {
		return err
	}
	if kind != ChargeKindCharge || !account.HasInviter() || !service.policy.RechargeCashbackEnabled {
		return nil
	}
	cashback := service.policy.rechargeCashback(amount)
	if cashback <= 0 {
		return nil
	}
	return service.applyCharge(ctx, transactionStore, account.InviterID, cashback, ChargeKindBonus)
}

// Pay debits amountCents, spending the gifted balance first. Overdraft is allowed.
func (service *Service) Pay(ctx context.Context, accountID AccountID, amountCents int64) error {
	overdraft := false
	operationError := service.pay(ctx, accountID, amountCents, &overdraft)
	entry := OperationLog{
		Operation: operationPay,
		AccountID: accountID,
		Amount:    AmountCents(amountCents),
		Error:     operationError,
	}
	if operationError == nil && overdraft {
		entry.Status = operationStatusOverdraft
	}
	service.logOperation(ctx, entry)
	return operationError
}

func (service *Service) pay(ctx context.Context, accountID AccountID, amountCents int64, overdraft *bool) error {
	amount, err := NewAmountCents(amountCents)
	if err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	return service.withAccountTx(ctx, accountID, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		fromGift := amount
		if account.GiftedBalanceCents < fromGift {
			fromGift = account.GiftedBalanceCents
		}
		if fromGift > 0 {
			account.GiftedBalanceCents -= fromGift
		}
		account.BalanceCents -= amount
		if err := transactionStore.UpdateAccount(ctx, account); err != nil {
			return err
		}
		*overdraft = account.BalanceCents < 0
		return service.stats.Add(ctx, transactionStore, service.nowFn(), DailyStatsDelta{UserUsageAmountCents: amount})
	})
}

// Ban bans or unbans the account. A zero duration bans indefinitely.
func (service *Service) Ban(ctx context.Context, accountID AccountID, duration time.Duration, scheme BanScheme) error {
	operationError := service.ban(ctx, accountID, duration, scheme)
	service.logOperation(ctx, OperationLog{
		Operation: operationBan,
		AccountID: accountID,
		Kind:      string(scheme),
		Error:     operationError,
	})
	return operationError
}

func (service *Service) ban(ctx context.Context, accountID AccountID, duration time.Duration, scheme BanScheme) error {
	parsedScheme, err := ParseBanScheme(string(scheme))
	if err != nil {
		return err
	}
	if duration < 0 {
		return fmt.Errorf("%w: must not be negative", ErrInvalidBanDuration)
	}
	return service.withAccountTx(ctx, accountID, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		switch parsedScheme {
		case BanSchemeBan:
			bannedSince := service.nowFn().UTC()
			account.IsBanned = true
			account.CurrentBannedSince = &bannedSince
			account.CurrentBannedPeriod = duration
			account.BannedCount++
		case BanSchemeUnban:
			account.IsBanned = false
			account.CurrentBannedSince = nil
			account.CurrentBannedPeriod = 0
		}
		return transactionStore.UpdateAccount(ctx, account)
	})
}

// RecordTokenUsage adds consumed model tokens to the account's lifetime total.
func (service *Service) RecordTokenUsage(ctx context.Context, accountID AccountID, tokens int64) error {
	operationError := func() error {
		if tokens < 0 {
			return fmt.Errorf("%w: token usage must not be negative", ErrInvalidAmountCents)
		}
		if tokens == 0 {
			return nil
		}
		return service.withAccountTx(ctx, accountID, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			account.TotalTokenUsage += tokens
			return transactionStore.UpdateAccount(ctx, account)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationTokenUsage,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// RecordViolation counts one content-policy violation against the account.
func (service *Service) RecordViolation(ctx context.Context, accountID AccountID) error {
	operationError := service.withAccountTx(ctx, accountID, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		account.ViolationCount++
		return transactionStore.UpdateAccount(ctx, account)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationViolation,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// RecordActivity adds platform activity counters to today's stats.
func (service *Service) RecordActivity(ctx context.Context, activity ActivityDelta) error {
	operationError := func() error {
		if activity.APICalls < 0 || activity.ImagesOCRed < 0 || activity.SDImagesGenerated < 0 {
			return fmt.Errorf("%w: activity counters must not be negative", ErrInvalidAmountCents)
		}
		delta := DailyStatsDelta{
			APICalls:          activity.APICalls,
			ImagesOCRed:       activity.ImagesOCRed,
			SDImagesGenerated: activity.SDImagesGenerated,
		}
		if delta.IsZero() {
			return nil
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			return service.stats.Add(ctx, transactionStore, service.nowFn(), delta)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationActivity,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) withAccountTx(ctx context.Context, accountID AccountID, fn func(ctx context.Context, transactionStore Store) error) error {
	return service.withAccountsTx(ctx, accountID, nil, fn)
}

// withAccountsTx holds the locker on accountID and every related account the unit of work mutates.
// Zero related ids are ignored.
func (service *Service) withAccountsTx(ctx context.Context, accountID AccountID, relatedIDs []AccountID, fn func(ctx context.Context, transactionStore Store) error) error {
	if accountID.IsZero() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAccountID)
	}
	if service.locker != nil {
		unlock, err := service.lockAccounts(ctx, append([]AccountID{accountID}, relatedIDs...))
		if err != nil {
			return err
		}
		defer unlock()
	}
	return service.store.WithTx(ctx, fn)
}

// lockAccounts acquires each distinct account lock in ascending id order and releases in reverse.
func (service *Service) lockAccounts(ctx context.Context, accountIDs []AccountID) (func(), error) {
	ordered := make([]AccountID, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		if !accountID.IsZero() && !slices.Contains(ordered, accountID) {
			ordered = append(ordered, accountID)
		}
	}
	slices.Sort(ordered)

	unlocks := make([]func(), 0, len(ordered))
	release := func() {
		for index := len(unlocks) - 1; index >= 0; index-- {
			unlocks[index]()
		}
	}
	for _, accountID := range ordered {
		unlock, err := service.locker.LockAccount(ctx, accountID)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}

func singleIdentifier(field IdentifierField) Identifiers {
	switch field.Name {
	case IdentifierQQNumber:
		return Identifiers{QQNumber: field.Value}
	case IdentifierWechatID:
		return Identifiers{WechatID: field.Value}
	case IdentifierPhoneNumber:
		return Identifiers{PhoneNumber: field.Value}
	default:
		return Identifiers{Email: field.Value}
	}
}
