package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	indexInviteCodesOwnerID = "idx_invite_codes_owner_id"
	columnInviteCodesOwner  = "invite_codes.owner_id"
	pgUniqueViolationCode   = "23505"
	sqliteConstraint        = 19
	sqliteConstraintPK      = 1555
	sqliteConstraintUnique  = 2067
	sqliteUniqueMessage     = "UNIQUE constraint failed"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectInviteCode  = "invite_code"
	errorSubjectDailyStats  = "daily_stats"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeUpdate         = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) InsertAccount(ctx context.Context, account ledger.NewAccount) (ledger.Account, error) {
	model := Account{
		UUID:               account.UUID.String(),
		QQNumber:           nullableString(account.Identifiers.QQNumber),
		WechatID:           nullableString(account.Identifiers.WechatID),
		PhoneNumber:        nullableString(account.Identifiers.PhoneNumber),
		Email:              nullableString(account.Identifiers.Email),
		BalanceCents:       account.BalanceCents.Int64(),
		GiftedBalanceCents: account.GiftedBalanceCents.Int64(),
		BillingRate:        account.BillingRate,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if _, duplicate := uniqueViolation(err); duplicate {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInsert, err)
	}
	inserted, err := mapAccount(model, "")
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return inserted, nil
}

func (store *Store) FindAccount(ctx context.Context, filter ledger.AccountFilter) (ledger.Account, bool, error) {
	query := store.db.WithContext(ctx).Model(&Account{})
	if !filter.ID.IsZero() {
		query = query.Where("id = ?", filter.ID.Int64())
	}
	if filter.UUID != "" {
		query = query.Where("uuid = ?", filter.UUID)
	}
	for _, field := range filter.Identifiers.Fields() {
		query = query.Where(clause.Eq{Column: clause.Column{Name: field.Name}, Value: field.Value})
	}
	var model Account
	err := query.Order("id").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, false, nil
	}
	if err != nil {
		return ledger.Account{}, false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := store.withInviteCode(ctx, model)
	if err != nil {
		return ledger.Account{}, false, err
	}
	return account, true, nil
}

func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID.Int64()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return store.withInviteCode(ctx, model)
}

func (store *Store) UpdateAccount(ctx context.Context, account ledger.Account) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", account.ID.Int64()).
		Updates(map[string]interface{}{
			"is_banned":                     account.IsBanned,
			"current_banned_since":          account.CurrentBannedSince,
			"current_banned_period_seconds": int64(account.CurrentBannedPeriod / time.Second),
			"banned_count":                  account.BannedCount,
			"violation_count":               account.ViolationCount,
			"balance_cents":                 account.BalanceCents.Int64(),
			"gifted_balance_cents":          account.GiftedBalanceCents.Int64(),
			"billing_rate":                  account.BillingRate,
			"total_recharged_cents":         account.TotalRechargedCents.Int64(),
			"total_bonus_cents":             account.TotalBonusCents.Int64(),
			"total_token_usage":             account.TotalTokenUsage,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) SetInviter(ctx context.Context, accountID ledger.AccountID, inviterID ledger.AccountID) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ? AND inviter_id IS NULL", accountID.Int64()).
		Update("inviter_id", inviterID.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAlreadyBound)
	}
	return nil
}

func (store *Store) ListInvitees(ctx context.Context, inviterID ledger.AccountID) ([]ledger.Account, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Where("inviter_id = ?", inviterID.Int64()).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	if len(rows) == 0 {
		return []ledger.Account{}, nil
	}
	ownerIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		ownerIDs = append(ownerIDs, row.ID)
	}
	var codes []InviteCode
	if err := store.db.WithContext(ctx).Where("owner_id IN ?", ownerIDs).Find(&codes).Error; err != nil {
		return nil, wrapStoreError(errorSubjectInviteCode, errorCodeList, err)
	}
	codeByOwner := make(map[int64]string, len(codes))
	for _, code := range codes {
		codeByOwner[code.OwnerID] = code.Code
	}
	invitees := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		invitee, err := mapAccount(row, codeByOwner[row.ID])
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		invitees = append(invitees, invitee)
	}
	return invitees, nil
}

// InsertInviteCode runs the insert inside a savepoint so a collision leaves the enclosing transaction usable.
func (store *Store) InsertInviteCode(ctx context.Context, code string, ownerID ledger.AccountID) (ledger.InviteCode, error) {
	model := InviteCode{Code: code, OwnerID: ownerID.Int64()}
	err := store.db.WithContext(ctx).Transaction(func(savepoint *gorm.DB) error {
		return savepoint.Create(&model).Error
	})
	if detail, duplicate := uniqueViolation(err); duplicate {
		if strings.Contains(detail, indexInviteCodesOwnerID) || strings.Contains(detail, columnInviteCodesOwner) {
			return ledger.InviteCode{}, wrapStoreError(errorSubjectInviteCode, errorCodeDuplicate, ledger.ErrInviteCodeOwned)
		}
		return ledger.InviteCode{}, wrapStoreError(errorSubjectInviteCode, errorCodeDuplicate, ledger.ErrInviteCodeExists)
	}
	if err != nil {
		return ledger.InviteCode{}, wrapStoreError(errorSubjectInviteCode, errorCodeInsert, err)
	}
	return mapInviteCode(model), nil
}

func (store *Store) FindInviteCode(ctx context.Context, filter ledger.InviteCodeFilter) (ledger.InviteCode, bool, error) {
	query := store.db.WithContext(ctx).Model(&InviteCode{})
	if filter.ID != 0 {
		query = query.Where("id = ?", filter.ID)
	}
	if filter.Code != "" {
		query = query.Where("code = ?", filter.Code)
	}
	if !filter.OwnerID.IsZero() {
		query = query.Where("owner_id = ?", filter.OwnerID.Int64())
	}
	return takeInviteCode(query)
}

func (store *Store) LockInviteCode(ctx context.Context, code string) (ledger.InviteCode, bool, error) {
	query := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code)
	return takeInviteCode(query)
}

func (store *Store) IncrementInviteCodeUsage(ctx context.Context, inviteCodeID int64, maxUsage int) error {
	result := store.db.WithContext(ctx).
		Model(&InviteCode{}).
		Where("id = ? AND use_count < ?", inviteCodeID, maxUsage).
		Update("use_count", gorm.Expr("use_count + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectInviteCode, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInviteCode, errorCodeUpdate, ledger.ErrMaxUsageExceeded)
	}
	return nil
}

// GetOrCreateDailyStats inserts the day's row unless it exists and reads it back; the unique date index settles races.
func (store *Store) GetOrCreateDailyStats(ctx context.Context, day time.Time) (ledger.DailyStats, error) {
	date := datatypes.Date(day)
	seed := DailyStats{Date: date}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return ledger.DailyStats{}, wrapStoreError(errorSubjectDailyStats, errorCodeInsert, err)
	}
	var model DailyStats
	if err := store.db.WithContext(ctx).Where(dateEquals(date)).Take(&model).Error; err != nil {
		return ledger.DailyStats{}, wrapStoreError(errorSubjectDailyStats, errorCodeGet, err)
	}
	stats := mapDailyStats(model)
	stats.Date = day
	return stats, nil
}

func (store *Store) AddDailyStats(ctx context.Context, day time.Time, delta ledger.DailyStatsDelta) error {
	if _, err := store.GetOrCreateDailyStats(ctx, day); err != nil {
		return err
	}
	result := store.db.WithContext(ctx).
		Model(&DailyStats{}).
		Where(dateEquals(datatypes.Date(day))).
		Updates(map[string]interface{}{
			"api_calls":               gorm.Expr("api_calls + ?", delta.APICalls),
			"images_ocred":            gorm.Expr("images_ocred + ?", delta.ImagesOCRed),
			"sd_images_generated":     gorm.Expr("sd_images_generated + ?", delta.SDImagesGenerated),
			"recharged_amount_cents":  gorm.Expr("recharged_amount_cents + ?", delta.RechargedAmountCents.Int64()),
			"user_usage_amount_cents": gorm.Expr("user_usage_amount_cents + ?", delta.UserUsageAmountCents.Int64()),
			"bonus_amount_cents":      gorm.Expr("bonus_amount_cents + ?", delta.BonusAmountCents.Int64()),
			"invite_code_binds":       gorm.Expr("invite_code_binds + ?", delta.InviteCodeBinds),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDailyStats, errorCodeUpdate, result.Error)
	}
	return nil
}

func (store *Store) withInviteCode(ctx context.Context, model Account) (ledger.Account, error) {
	var code InviteCode
	err := store.db.WithContext(ctx).Where("owner_id = ?", model.ID).Take(&code).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, wrapStoreError(errorSubjectInviteCode, errorCodeGet, err)
	}
	account, err := mapAccount(model, code.Code)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func dateEquals(date datatypes.Date) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "date"}, Value: date}
}

func takeInviteCode(query *gorm.DB) (ledger.InviteCode, bool, error) {
	var model InviteCode
	err := query.Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.InviteCode{}, false, nil
	}
	if err != nil {
		return ledger.InviteCode{}, false, wrapStoreError(errorSubjectInviteCode, errorCodeGet, err)
	}
	return mapInviteCode(model), true, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account, inviteCode string) (ledger.Account, error) {
	parsedUUID, err := uuid.Parse(model.UUID)
	if err != nil {
		return ledger.Account{}, err
	}
	account := ledger.Account{
		ID:   ledger.AccountID(model.ID),
		UUID: parsedUUID,
		Identifiers: ledger.Identifiers{
			QQNumber:    stringOrEmpty(model.QQNumber),
			WechatID:    stringOrEmpty(model.WechatID),
			PhoneNumber: stringOrEmpty(model.PhoneNumber),
			Email:       stringOrEmpty(model.Email),
		},
		IsBanned:            model.IsBanned,
		CurrentBannedPeriod: time.Duration(model.CurrentBannedPeriodSeconds) * time.Second,
		BannedCount:         model.BannedCount,
		ViolationCount:      model.ViolationCount,
		BalanceCents:        ledger.AmountCents(model.BalanceCents),
		GiftedBalanceCents:  ledger.AmountCents(model.GiftedBalanceCents),
		BillingRate:         model.BillingRate,
		TotalRechargedCents: ledger.AmountCents(model.TotalRechargedCents),
		TotalBonusCents:     ledger.AmountCents(model.TotalBonusCents),
		TotalTokenUsage:     model.TotalTokenUsage,
		InviteCode:          inviteCode,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}
	if model.CurrentBannedSince != nil {
		bannedSince := model.CurrentBannedSince.UTC()
		account.CurrentBannedSince = &bannedSince
	}
	if model.InviterID != nil {
		account.InviterID = ledger.AccountID(*model.InviterID)
	}
	return account, nil
}

func mapInviteCode(model InviteCode) ledger.InviteCode {
	return ledger.InviteCode{
		ID:       model.ID,
		Code:     model.Code,
		OwnerID:  ledger.AccountID(model.OwnerID),
		UseCount: model.UseCount,
	}
}

func mapDailyStats(model DailyStats) ledger.DailyStats {
	return ledger.DailyStats{
		Date:                 ledger.CalendarDay(time.Time(model.Date)),
		APICalls:             model.APICalls,
		ImagesOCRed:          model.ImagesOCRed,
		SDImagesGenerated:    model.SDImagesGenerated,
		RechargedAmountCents: ledger.AmountCents(model.RechargedAmountCents),
		UserUsageAmountCents: ledger.AmountCents(model.UserUsageAmountCents),
		BonusAmountCents:     ledger.AmountCents(model.BonusAmountCents),
		InviteCodeBinds:      model.InviteCodeBinds,
	}
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// uniqueViolation reports whether err is a unique or primary-key failure and returns the
// violated constraint (postgres) or the driver message naming the column (sqlite).
// Foreign-key, not-null and check failures are not unique violations.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqliteConstraintUnique, sqliteConstraintPK:
			return sqliteErr.Error(), true
		case sqliteConstraint:
			// primary code only: extended result codes are off for this connection
			return sqliteErr.Error(), strings.Contains(sqliteErr.Error(), sqliteUniqueMessage)
		default:
			return "", false
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return err.Error(), true
	}
	return "", false
}
