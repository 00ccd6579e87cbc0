package gormstore

import (
	"context"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"

// Account represents the accounts table.
type Account struct {
	ID                         int64      `gorm:"primaryKey;autoIncrement"`
	UUID                       string     `gorm:"column:uuid;type:uuid;not null;uniqueIndex:idx_accounts_uuid"`
	QQNumber                   *string    `gorm:"column:qq_number;size:15;uniqueIndex:idx_accounts_qq_number"`
	WechatID                   *string    `gorm:"column:wechat_id;size:15;uniqueIndex:idx_accounts_wechat_id"`
	PhoneNumber                *string    `gorm:"column:phone_number;size:20;uniqueIndex:idx_accounts_phone_number"`
	Email                      *string    `gorm:"column:email;size:30;uniqueIndex:idx_accounts_email"`
	IsBanned                   bool       `gorm:"not null"`
	CurrentBannedSince         *time.Time `gorm:""`
	CurrentBannedPeriodSeconds int64      `gorm:"not null"`
	BannedCount                int        `gorm:"not null"`
	ViolationCount             int        `gorm:"not null"`
	BalanceCents               int64      `gorm:"not null"`
	GiftedBalanceCents         int64      `gorm:"not null"`
	BillingRate                int        `gorm:"not null"`
	TotalRechargedCents        int64      `gorm:"not null"`
	TotalBonusCents            int64      `gorm:"not null"`
	TotalTokenUsage            int64      `gorm:"not null"`
	InviterID                  *int64     `gorm:"index:idx_accounts_inviter_id"`
	Inviter                    *Account   `gorm:"foreignKey:InviterID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
	CreatedAt                  time.Time  `gorm:"not null"`
	UpdatedAt                  time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// InviteCode mirrors the invite_codes table. Every account owns at most one row.
type InviteCode struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Code      string    `gorm:"size:32;not null;uniqueIndex:idx_invite_codes_code"`
	OwnerID   int64     `gorm:"not null;uniqueIndex:idx_invite_codes_owner_id"`
	Owner     *Account  `gorm:"foreignKey:OwnerID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
	UseCount  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (InviteCode) TableName() string { return "invite_codes" }

// DailyStats mirrors the daily_stats table, one row per calendar date.
type DailyStats struct {
	ID                   int64          `gorm:"primaryKey;autoIncrement"`
	Date                 datatypes.Date `gorm:"not null;uniqueIndex:idx_daily_stats_date"`
	APICalls             int64          `gorm:"column:api_calls;not null"`
	ImagesOCRed          int64          `gorm:"column:images_ocred;not null"`
	SDImagesGenerated    int64          `gorm:"column:sd_images_generated;not null"`
	RechargedAmountCents int64          `gorm:"not null"`
	UserUsageAmountCents int64          `gorm:"not null"`
	BonusAmountCents     int64          `gorm:"not null"`
	InviteCodeBinds      int64          `gorm:"not null"`
	CreatedAt            time.Time      `gorm:"not null"`
	UpdatedAt            time.Time      `gorm:"not null"`
}

func (DailyStats) TableName() string { return "daily_stats" }

// SQLiteDSN appends the pragmas the ledger schema relies on to a sqlite file path.
func SQLiteDSN(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqliteForeignKeysPragma
}

// Migrate creates or updates the ledger tables, including the accounts.inviter_id and
// invite_codes.owner_id foreign keys.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&Account{}, &InviteCode{}, &DailyStats{})
}
