package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AmountCents is an integer currency in cents. Balances may be negative.
type AmountCents int64

// Int64 exposes the raw value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewAmountCents validates an operation amount: zero is allowed, negative is not.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// AccountID is the internal account identifier.
type AccountID int64

// NewAccountID validates an internal account id.
func NewAccountID(raw int64) (AccountID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidAccountID)
	}
	return AccountID(raw), nil
}

// Int64 exposes the raw value.
func (id AccountID) Int64() int64 {
	return int64(id)
}

// IsZero reports whether the id is unset.
func (id AccountID) IsZero() bool {
	return id == 0
}

// Identifiers holds the external handles an account can be found by.
type Identifiers struct {
	QQNumber    string
	WechatID    string
	PhoneNumber string
	Email       string
}

// Column names of the identifier fields.
const (
	IdentifierQQNumber    = "qq_number"
	IdentifierWechatID    = "wechat_id"
	IdentifierPhoneNumber = "phone_number"
	IdentifierEmail       = "email"
)

var identifierMaxLengths = map[string]int{
	IdentifierQQNumber:    15,
	IdentifierWechatID:    15,
	IdentifierPhoneNumber: 20,
	IdentifierEmail:       30,
}

// NewIdentifiers trims every handle and enforces column widths.
func NewIdentifiers(qqNumber string, wechatID string, phoneNumber string, email string) (Identifiers, error) {
	identifiers := Identifiers{
		QQNumber:    strings.TrimSpace(qqNumber),
		WechatID:    strings.TrimSpace(wechatID),
		PhoneNumber: strings.TrimSpace(phoneNumber),
		Email:       strings.TrimSpace(email),
	}
	for _, field := range identifiers.Fields() {
		if len(field.Value) > identifierMaxLengths[field.Name] {
			return Identifiers{}, fmt.Errorf("%w: %s longer than %d characters", ErrInvalidIdentifier, field.Name, identifierMaxLengths[field.Name])
		}
	}
	return identifiers, nil
}

// IdentifierField is one populated identifier column.
type IdentifierField struct {
	Name  string
	Value string
}

// Fields lists the populated identifiers in a stable order.
func (identifiers Identifiers) Fields() []IdentifierField {
	all := []IdentifierField{
		{Name: IdentifierQQNumber, Value: identifiers.QQNumber},
		{Name: IdentifierWechatID, Value: identifiers.WechatID},
		{Name: IdentifierPhoneNumber, Value: identifiers.PhoneNumber},
		{Name: IdentifierEmail, Value: identifiers.Email},
	}
	populated := make([]IdentifierField, 0, len(all))
	for _, field := range all {
		if field.Value != "" {
			populated = append(populated, field)
		}
	}
	return populated
}

// IsEmpty reports whether no identifier is populated.
func (identifiers Identifiers) IsEmpty() bool {
	return len(identifiers.Fields()) == 0
}

// ChargeKind selects between a paid recharge and a bonus credit.
type ChargeKind string

const (
	ChargeKindCharge ChargeKind = "charge"
	ChargeKindBonus  ChargeKind = "bonus"
)

// ParseChargeKind validates a charge kind.
func ParseChargeKind(raw string) (ChargeKind, error) {
	switch ChargeKind(strings.TrimSpace(raw)) {
	case ChargeKindCharge:
		return ChargeKindCharge, nil
	case ChargeKindBonus:
		return ChargeKindBonus, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChargeKind, raw)
	}
}

// BanScheme selects between banning and lifting a ban.
type BanScheme string

const (
	BanSchemeBan   BanScheme = "ban"
	BanSchemeUnban BanScheme = "unban"
)

// ParseBanScheme validates a ban scheme.
func ParseBanScheme(raw string) (BanScheme, error) {
	switch BanScheme(strings.TrimSpace(raw)) {
	case BanSchemeBan:
		return BanSchemeBan, nil
	case BanSchemeUnban:
		return BanSchemeUnban, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBanScheme, raw)
	}
}

// Account is the ledger view of a user.
type Account struct {
	ID          AccountID
	UUID        uuid.UUID
	Identifiers Identifiers

	IsBanned           bool
	CurrentBannedSince *time.Time
	// CurrentBannedPeriod of zero while banned means indefinitely.
	CurrentBannedPeriod time.Duration
	BannedCount         int
	ViolationCount      int

	BalanceCents        AmountCents
	GiftedBalanceCents  AmountCents
	BillingRate         int
	TotalRechargedCents AmountCents
	TotalBonusCents     AmountCents
	TotalTokenUsage     int64

	InviterID  AccountID
	InviteCode string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasInviter reports whether the account completed a referral bind.
func (account Account) HasInviter() bool {
	return !account.InviterID.IsZero()
}

// InviteCode is a referral token owned by exactly one account.
type InviteCode struct {
	ID       int64
	Code     string
	OwnerID  AccountID
	UseCount int
}

// NewInviteCodeValue normalizes a user supplied code.
func NewInviteCodeValue(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidInviteCode)
	}
	for _, character := range trimmed {
		if !strings.ContainsRune(inviteCodeAlphabet, character) {
			return "", fmt.Errorf("%w: must be alphanumeric", ErrInvalidInviteCode)
		}
	}
	return trimmed, nil
}

// DailyStats is the per-calendar-day counter bucket.
type DailyStats struct {
	Date                 time.Time
	APICalls             int64
	ImagesOCRed          int64
	SDImagesGenerated    int64
	RechargedAmountCents AmountCents
	UserUsageAmountCents AmountCents
	BonusAmountCents     AmountCents
	InviteCodeBinds      int64
}

// DailyStatsDelta is added to a DailyStats row.
type DailyStatsDelta struct {
	APICalls             int64
	ImagesOCRed          int64
	SDImagesGenerated    int64
	RechargedAmountCents AmountCents
	UserUsageAmountCents AmountCents
	BonusAmountCents     AmountCents
	InviteCodeBinds      int64
}

// IsZero reports whether applying the delta changes nothing.
func (delta DailyStatsDelta) IsZero() bool {
	return delta == DailyStatsDelta{}
}

// ActivityDelta carries platform activity counters reported by the assistant front ends.
type ActivityDelta struct {
	APICalls          int64
	ImagesOCRed       int64
	SDImagesGenerated int64
}

// AccountFilter selects an account by equality. Populated fields are ANDed.
type AccountFilter struct {
	ID          AccountID
	UUID        string
	Identifiers Identifiers
}

// IsEmpty reports whether no criterion is set.
func (filter AccountFilter) IsEmpty() bool {
	return filter.ID.IsZero() && strings.TrimSpace(filter.UUID) == "" && filter.Identifiers.IsEmpty()
}

// InviteCodeFilter selects an invite code by equality. Populated fields are ANDed.
type InviteCodeFilter struct {
	ID      int64
	Code    string
	OwnerID AccountID
}

// IsEmpty reports whether no criterion is set.
func (filter InviteCodeFilter) IsEmpty() bool {
	return filter.ID == 0 && filter.Code == "" && filter.OwnerID.IsZero()
}

// NewAccount is the insert payload for an account row.
type NewAccount struct {
	UUID               uuid.UUID
	Identifiers        Identifiers
	BalanceCents       AmountCents
	GiftedBalanceCents AmountCents
	BillingRate        int
}

// Store is the persistence contract used by Service.
// Methods called on the store handed to WithTx run inside that transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// InsertAccount returns ErrAccountExists when an identifier or the uuid is taken.
	InsertAccount(ctx context.Context, account NewAccount) (Account, error)
	FindAccount(ctx context.Context, filter AccountFilter) (Account, bool, error)
	// LockAccount reads the account under a row lock; ErrUnknownAccount when missing.
	LockAccount(ctx context.Context, accountID AccountID) (Account, error)
	// UpdateAccount persists the mutable balance, counter and ban columns.
	UpdateAccount(ctx context.Context, account Account) error
	// SetInviter assigns inviter_id only while it is unset; ErrAlreadyBound otherwise.
	SetInviter(ctx context.Context, accountID AccountID, inviterID AccountID) error
	ListInvitees(ctx context.Context, inviterID AccountID) ([]Account, error)

	// InsertInviteCode returns ErrInviteCodeExists on a code collision without aborting the caller's transaction.
	InsertInviteCode(ctx context.Context, code string, ownerID AccountID) (InviteCode, error)
	FindInviteCode(ctx context.Context, filter InviteCodeFilter) (InviteCode, bool, error)
	LockInviteCode(ctx context.Context, code string) (InviteCode, bool, error)
	// IncrementInviteCodeUsage bumps use_count only while it is below maxUsage; ErrMaxUsageExceeded otherwise.
	IncrementInviteCodeUsage(ctx context.Context, inviteCodeID int64, maxUsage int) error

	GetOrCreateDailyStats(ctx context.Context, day time.Time) (DailyStats, error)
	AddDailyStats(ctx context.Context, day time.Time, delta DailyStatsDelta) error
}

// CalendarDay truncates moment to midnight UTC of its calendar date in moment's location.
func CalendarDay(moment time.Time) time.Time {
	year, month, day := moment.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
