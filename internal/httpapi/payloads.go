package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
)

type createAccountRequest struct {
	QQNumber    string `json:"qq_number"`
	WechatID    string `json:"wechat_id"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

type chargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Kind        string `json:"kind"`
}

type payRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type banRequest struct {
	Scheme          string `json:"scheme"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type bindRequest struct {
	Code string `json:"code"`
}

type tokenUsageRequest struct {
	Tokens int64 `json:"tokens"`
}

type activityRequest struct {
	APICalls          int64 `json:"api_calls"`
	ImagesOCRed       int64 `json:"images_ocred"`
	SDImagesGenerated int64 `json:"sd_images_generated"`
}

type accountPayload struct {
	ID                         int64  `json:"id"`
	UUID                       string `json:"uuid"`
	QQNumber                   string `json:"qq_number,omitempty"`
	WechatID                   string `json:"wechat_id,omitempty"`
	PhoneNumber                string `json:"phone_number,omitempty"`
	Email                      string `json:"email,omitempty"`
	IsBanned                   bool   `json:"is_banned"`
	CurrentBannedSinceUnixUTC  *int64 `json:"current_banned_since_unix_utc,omitempty"`
	CurrentBannedPeriodSeconds int64  `json:"current_banned_period_seconds"`
	BannedCount                int    `json:"banned_count"`
	ViolationCount             int    `json:"violation_count"`
	BalanceCents               int64  `json:"balance_cents"`
	GiftedBalanceCents         int64  `json:"gifted_balance_cents"`
	BillingRate                int    `json:"billing_rate"`
	TotalRechargedCents        int64  `json:"total_recharged_cents"`
	TotalBonusCents            int64  `json:"total_bonus_cents"`
	TotalTokenUsage            int64  `json:"total_token_usage"`
	InviterID                  *int64 `json:"inviter_id,omitempty"`
	InviteCode                 string `json:"invite_code"`
	CreatedUnixUTC             int64  `json:"created_unix_utc"`
}

func newAccountPayload(account ledger.Account) accountPayload {
	payload := accountPayload{
		ID:                         account.ID.Int64(),
		UUID:                       account.UUID.String(),
		QQNumber:                   account.Identifiers.QQNumber,
		WechatID:                   account.Identifiers.WechatID,
		PhoneNumber:                account.Identifiers.PhoneNumber,
		Email:                      account.Identifiers.Email,
		IsBanned:                   account.IsBanned,
		CurrentBannedPeriodSeconds: int64(account.CurrentBannedPeriod / time.Second),
		BannedCount:                account.BannedCount,
		ViolationCount:             account.ViolationCount,
		BalanceCents:               account.BalanceCents.Int64(),
		GiftedBalanceCents:         account.GiftedBalanceCents.Int64(),
		BillingRate:                account.BillingRate,
		TotalRechargedCents:        account.TotalRechargedCents.Int64(),
		TotalBonusCents:            account.TotalBonusCents.Int64(),
		TotalTokenUsage:            account.TotalTokenUsage,
		InviteCode:                 account.InviteCode,
		CreatedUnixUTC:             account.CreatedAt.UTC().Unix(),
	}
	if account.CurrentBannedSince != nil {
		since := account.CurrentBannedSince.UTC().Unix()
		payload.CurrentBannedSinceUnixUTC = &since
	}
	if account.HasInviter() {
		inviterID := account.InviterID.Int64()
		payload.InviterID = &inviterID
	}
	return payload
}

type inviteCodePayload struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	OwnerID  int64  `json:"owner_id"`
	UseCount int    `json:"use_count"`
}

type dailyStatsPayload struct {
	Date                 string `json:"date"`
	APICalls             int64  `json:"api_calls"`
	ImagesOCRed          int64  `json:"images_ocred"`
	SDImagesGenerated    int64  `json:"sd_images_generated"`
	RechargedAmountCents int64  `json:"recharged_amount_cents"`
	UserUsageAmountCents int64  `json:"user_usage_amount_cents"`
	BonusAmountCents     int64  `json:"bonus_amount_cents"`
	InviteCodeBinds      int64  `json:"invite_code_binds"`
}

func newDailyStatsPayload(stats ledger.DailyStats) dailyStatsPayload {
	return dailyStatsPayload{
		Date:                 stats.Date.Format(dateLayout),
		APICalls:             stats.APICalls,
		ImagesOCRed:          stats.ImagesOCRed,
		SDImagesGenerated:    stats.SDImagesGenerated,
		RechargedAmountCents: stats.RechargedAmountCents.Int64(),
		UserUsageAmountCents: stats.UserUsageAmountCents.Int64(),
		BonusAmountCents:     stats.BonusAmountCents.Int64(),
		InviteCodeBinds:      stats.InviteCodeBinds,
	}
}
