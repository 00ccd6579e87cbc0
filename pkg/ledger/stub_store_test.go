package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"
)

// stubStore is an in-memory Store whose WithTx restores a snapshot when fn fails.
type stubStore struct {
	nextAccountID int64
	nextCodeID    int64
	accounts      map[AccountID]Account
	codes         map[int64]InviteCode
	stats         map[string]DailyStats

	codeCollisions        int
	insertInviteCodeError error
	updateAccountError    error
	addDailyStatsError    error
	findAccountError      error

	transactions int
	rollbacks    int
}

type stubSnapshot struct {
	nextAccountID int64
	nextCodeID    int64
	accounts      map[AccountID]Account
	codes         map[int64]InviteCode
	stats         map[string]DailyStats
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: map[AccountID]Account{},
		codes:    map[int64]InviteCode{},
		stats:    map[string]DailyStats{},
	}
}

func (store *stubStore) snapshot() stubSnapshot {
	accounts := make(map[AccountID]Account, len(store.accounts))
	for id, account := range store.accounts {
		accounts[id] = account
	}
	codes := make(map[int64]InviteCode, len(store.codes))
	for id, code := range store.codes {
		codes[id] = code
	}
	stats := make(map[string]DailyStats, len(store.stats))
	for key, bucket := range store.stats {
		stats[key] = bucket
	}
	return stubSnapshot{
		nextAccountID: store.nextAccountID,
		nextCodeID:    store.nextCodeID,
		accounts:      accounts,
		codes:         codes,
		stats:         stats,
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.nextAccountID = snapshot.nextAccountID
	store.nextCodeID = snapshot.nextCodeID
	store.accounts = snapshot.accounts
	store.codes = snapshot.codes
	store.stats = snapshot.stats
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.transactions++
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.rollbacks++
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) InsertAccount(ctx context.Context, account NewAccount) (Account, error) {
	for _, existing := range store.accounts {
		for _, field := range account.Identifiers.Fields() {
			for _, existingField := range existing.Identifiers.Fields() {
				if field == existingField {
					return Account{}, ErrAccountExists
				}
			}
		}
	}
	store.nextAccountID++
	inserted := Account{
		ID:                 AccountID(store.nextAccountID),
		UUID:               account.UUID,
		Identifiers:        account.Identifiers,
		BalanceCents:       account.BalanceCents,
		GiftedBalanceCents: account.GiftedBalanceCents,
		BillingRate:        account.BillingRate,
	}
	store.accounts[inserted.ID] = inserted
	return inserted, nil
}

func (store *stubStore) FindAccount(ctx context.Context, filter AccountFilter) (Account, bool, error) {
	if store.findAccountError != nil {
		return Account{}, false, store.findAccountError
	}
	for _, id := range store.sortedAccountIDs() {
		account := store.accounts[id]
		if !filter.ID.IsZero() && account.ID != filter.ID {
			continue
		}
		if filter.UUID != "" && account.UUID.String() != filter.UUID {
			continue
		}
		if !matchesIdentifiers(account.Identifiers, filter.Identifiers) {
			continue
		}
		return store.withInviteCode(account), true, nil
	}
	return Account{}, false, nil
}

func (store *stubStore) LockAccount(ctx context.Context, accountID AccountID) (Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %d", ErrUnknownAccount, accountID)
	}
	return store.withInviteCode(account), nil
}

func (store *stubStore) UpdateAccount(ctx context.Context, account Account) error {
	if store.updateAccountError != nil {
		return store.updateAccountError
	}
	existing, ok := store.accounts[account.ID]
	if !ok {
		return ErrUnknownAccount
	}
	account.InviterID = existing.InviterID
	account.InviteCode = ""
	store.accounts[account.ID] = account
	return nil
}

func (store *stubStore) SetInviter(ctx context.Context, accountID AccountID, inviterID AccountID) error {
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrUnknownAccount
	}
	if account.HasInviter() {
		return ErrAlreadyBound
	}
	account.InviterID = inviterID
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) ListInvitees(ctx context.Context, inviterID AccountID) ([]Account, error) {
	invitees := []Account{}
	for _, id := range store.sortedAccountIDs() {
		if store.accounts[id].InviterID == inviterID {
			invitees = append(invitees, store.withInviteCode(store.accounts[id]))
		}
	}
	return invitees, nil
}

func (store *stubStore) InsertInviteCode(ctx context.Context, code string, ownerID AccountID) (InviteCode, error) {
	if store.insertInviteCodeError != nil {
		return InviteCode{}, store.insertInviteCodeError
	}
	if store.codeCollisions > 0 {
		store.codeCollisions--
		return InviteCode{}, ErrInviteCodeExists
	}
	for _, existing := range store.codes {
		if existing.Code == code {
			return InviteCode{}, ErrInviteCodeExists
		}
		if existing.OwnerID == ownerID {
			return InviteCode{}, ErrInviteCodeOwned
		}
	}
	store.nextCodeID++
	inviteCode := InviteCode{ID: store.nextCodeID, Code: code, OwnerID: ownerID}
	store.codes[inviteCode.ID] = inviteCode
	return inviteCode, nil
}

func (store *stubStore) FindInviteCode(ctx context.Context, filter InviteCodeFilter) (InviteCode, bool, error) {
	for _, inviteCode := range store.codes {
		if filter.ID != 0 && inviteCode.ID != filter.ID {
			continue
		}
		if filter.Code != "" && inviteCode.Code != filter.Code {
			continue
		}
		if !filter.OwnerID.IsZero() && inviteCode.OwnerID != filter.OwnerID {
			continue
		}
		return inviteCode, true, nil
	}
	return InviteCode{}, false, nil
}

func (store *stubStore) LockInviteCode(ctx context.Context, code string) (InviteCode, bool, error) {
	return store.FindInviteCode(ctx, InviteCodeFilter{Code: code})
}

func (store *stubStore) IncrementInviteCodeUsage(ctx context.Context, inviteCodeID int64, maxUsage int) error {
	inviteCode, ok := store.codes[inviteCodeID]
	if !ok {
		return ErrNoSuchCode
	}
	if inviteCode.UseCount >= maxUsage {
		return ErrMaxUsageExceeded
	}
	inviteCode.UseCount++
	store.codes[inviteCodeID] = inviteCode
	return nil
}

func (store *stubStore) GetOrCreateDailyStats(ctx context.Context, day time.Time) (DailyStats, error) {
	key := day.Format(time.DateOnly)
	bucket, ok := store.stats[key]
	if !ok {
		bucket = DailyStats{Date: day}
		store.stats[key] = bucket
	}
	return bucket, nil
}

func (store *stubStore) AddDailyStats(ctx context.Context, day time.Time, delta DailyStatsDelta) error {
	if store.addDailyStatsError != nil {
		return store.addDailyStatsError
	}
	bucket, err := store.GetOrCreateDailyStats(ctx, day)
	if err != nil {
		return err
	}
	bucket.APICalls += delta.APICalls
	bucket.ImagesOCRed += delta.ImagesOCRed
	bucket.SDImagesGenerated += delta.SDImagesGenerated
	bucket.RechargedAmountCents += delta.RechargedAmountCents
	bucket.UserUsageAmountCents += delta.UserUsageAmountCents
	bucket.BonusAmountCents += delta.BonusAmountCents
	bucket.InviteCodeBinds += delta.InviteCodeBinds
	store.stats[day.Format(time.DateOnly)] = bucket
	return nil
}

func (store *stubStore) sortedAccountIDs() []AccountID {
	ids := make([]AccountID, 0, len(store.accounts))
	for id := range store.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(left, right int) bool { return ids[left] < ids[right] })
	return ids
}

func (store *stubStore) withInviteCode(account Account) Account {
	for _, inviteCode := range store.codes {
		if inviteCode.OwnerID == account.ID {
			account.InviteCode = inviteCode.Code
		}
	}
	return account
}

func (store *stubStore) mustAccount(test *testing.T, accountID AccountID) Account {
	test.Helper()
	account, ok := store.accounts[accountID]
	if !ok {
		test.Fatalf("account %d not found", accountID)
	}
	return store.withInviteCode(account)
}

func (store *stubStore) mustInviteCode(test *testing.T, code string) InviteCode {
	test.Helper()
	inviteCode, found, _ := store.FindInviteCode(context.Background(), InviteCodeFilter{Code: code})
	if !found {
		test.Fatalf("invite code %q not found", code)
	}
	return inviteCode
}

func (store *stubStore) statsFor(day time.Time) DailyStats {
	return store.stats[CalendarDay(day).Format(time.DateOnly)]
}

func matchesIdentifiers(candidate Identifiers, filter Identifiers) bool {
	if filter.QQNumber != "" && candidate.QQNumber != filter.QQNumber {
		return false
	}
	if filter.WechatID != "" && candidate.WechatID != filter.WechatID {
		return false
	}
	if filter.PhoneNumber != "" && candidate.PhoneNumber != filter.PhoneNumber {
		return false
	}
	if filter.Email != "" && candidate.Email != filter.Email {
		return false
	}
	return true
}

var fixedNow = time.Date(2024, time.April, 9, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	return mustNewServiceWithPolicy(test, store, DefaultPolicy(), options...)
}

func mustNewServiceWithPolicy(test *testing.T, store Store, policy Policy, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, policy, fixedClock, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustIdentifiers(test *testing.T, qqNumber string, wechatID string, phoneNumber string, email string) Identifiers {
	test.Helper()
	identifiers, err := NewIdentifiers(qqNumber, wechatID, phoneNumber, email)
	if err != nil {
		test.Fatalf("identifiers: %v", err)
	}
	return identifiers
}

func mustCreateAccount(test *testing.T, service *Service, email string) Account {
	test.Helper()
	account, err := service.Create(context.Background(), mustIdentifiers(test, "", "", "", email))
	if err != nil {
		test.Fatalf("create %s: %v", email, err)
	}
	return account
}
