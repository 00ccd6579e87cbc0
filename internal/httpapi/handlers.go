package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	dateLayout = "2006-01-02"

	// maxBanDurationSeconds is the longest ban a time.Duration can hold.
	maxBanDurationSeconds = int64(math.MaxInt64 / int64(time.Second))
)

type httpHandler struct {
	service Ledger
	logger  *zap.Logger
}

func (handler *httpHandler) handleCreateAccount(ctx *gin.Context) {
	var request createAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	identifiers, err := ledger.NewIdentifiers(request.QQNumber, request.WechatID, request.PhoneNumber, request.Email)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := handler.service.Create(ctx.Request.Context(), identifiers)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"account": newAccountPayload(account)})
}

func (handler *httpHandler) handleGetAccount(ctx *gin.Context) {
	identifiers, err := ledger.NewIdentifiers(ctx.Query("qq_number"), ctx.Query("wechat_id"), ctx.Query("phone_number"), ctx.Query("email"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	filter := ledger.AccountFilter{UUID: ctx.Query("uuid"), Identifiers: identifiers}
	if rawID := strings.TrimSpace(ctx.Query("id")); rawID != "" {
		accountID, parseErr := parseAccountID(rawID)
		if parseErr != nil {
			handler.respondError(ctx, parseErr)
			return
		}
		filter.ID = accountID
	}
	if filter.IsEmpty() {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_filter", "provide id, uuid or an identifier"))
		return
	}
	account, found, err := handler.service.Get(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, errorResponse(string(ledger.ReasonNoSuchAccount), "account not found"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *httpHandler) handleInvitees(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	invitees, err := handler.service.Invitees(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]accountPayload, 0, len(invitees))
	for _, invitee := range invitees {
		payloads = append(payloads, newAccountPayload(invitee))
	}
	ctx.JSON(http.StatusOK, gin.H{"invitees": payloads})
}

func (handler *httpHandler) handleCharge(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	var request chargeRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	kind := ledger.ChargeKindCharge
	if strings.TrimSpace(request.Kind) != "" {
		parsed, err := ledger.ParseChargeKind(request.Kind)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		kind = parsed
	}
	if err := handler.service.Charge(ctx.Request.Context(), accountID, request.AmountCents, kind); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithAccount(ctx, accountID)
}

func (handler *httpHandler) handlePay(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	var request payRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	if err := handler.service.Pay(ctx.Request.Context(), accountID, request.AmountCents); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithAccount(ctx, accountID)
}

func (handler *httpHandler) handleBan(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	var request banRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	scheme, err := ledger.ParseBanScheme(request.Scheme)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if request.DurationSeconds > maxBanDurationSeconds {
		handler.respondError(ctx, fmt.Errorf("%w: duration_seconds exceeds %d", ledger.ErrInvalidBanDuration, maxBanDurationSeconds))
		return
	}
	duration := time.Duration(request.DurationSeconds) * time.Second
	if err := handler.service.Ban(ctx.Request.Context(), accountID, duration, scheme); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithAccount(ctx, accountID)
}

func (handler *httpHandler) handleBind(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	var request bindRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	if err := handler.service.BindInviteCode(ctx.Request.Context(), accountID, request.Code); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithAccount(ctx, accountID)
}

func (handler *httpHandler) handleTokenUsage(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	var request tokenUsageRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	if err := handler.service.RecordTokenUsage(ctx.Request.Context(), accountID, request.Tokens); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithAccount(ctx, accountID)
}

func (handler *httpHandler) handleViolation(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	if err := handler.service.RecordViolation(ctx.Request.Context(), accountID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithAccount(ctx, accountID)
}

func (handler *httpHandler) handleInviteCode(ctx *gin.Context) {
	code, err := ledger.NewInviteCodeValue(ctx.Param("code"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	inviteCode, found, err := handler.service.InviteCode(ctx.Request.Context(), ledger.InviteCodeFilter{Code: code})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, errorResponse(string(ledger.ReasonNoSuchCode), "invite code not found"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invite_code": inviteCodePayload{
		ID:       inviteCode.ID,
		Code:     inviteCode.Code,
		OwnerID:  inviteCode.OwnerID.Int64(),
		UseCount: inviteCode.UseCount,
	}})
}

func (handler *httpHandler) handleDailyStats(ctx *gin.Context) {
	var (
		stats ledger.DailyStats
		err   error
	)
	if rawDate := strings.TrimSpace(ctx.Query("date")); rawDate != "" {
		day, parseErr := time.Parse(dateLayout, rawDate)
		if parseErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_date", "date must be YYYY-MM-DD"))
			return
		}
		stats, err = handler.service.DailyStats(ctx.Request.Context(), day)
	} else {
		stats, err = handler.service.Today(ctx.Request.Context())
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stats": newDailyStatsPayload(stats)})
}

func (handler *httpHandler) handleActivity(ctx *gin.Context) {
	var request activityRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	activity := ledger.ActivityDelta{
		APICalls:          request.APICalls,
		ImagesOCRed:       request.ImagesOCRed,
		SDImagesGenerated: request.SDImagesGenerated,
	}
	if err := handler.service.RecordActivity(ctx.Request.Context(), activity); err != nil {
		handler.respondError(ctx, err)
		return
	}
	stats, err := handler.service.Today(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stats": newDailyStatsPayload(stats)})
}

func (handler *httpHandler) accountIDParam(ctx *gin.Context) (ledger.AccountID, bool) {
	accountID, err := parseAccountID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return 0, false
	}
	return accountID, true
}

func (handler *httpHandler) bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return false
	}
	return true
}

func (handler *httpHandler) respondWithAccount(ctx *gin.Context, accountID ledger.AccountID) {
	account, found, err := handler.service.Get(ctx.Request.Context(), ledger.AccountFilter{ID: accountID})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !found {
		handler.respondError(ctx, ledger.ErrUnknownAccount)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	kind := ledger.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		handler.logger.Error("ledger request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse("internal_error", "ledger unavailable"))
		return
	}
	ctx.JSON(status, errorResponse(string(ledger.ReasonOf(err)), err.Error()))
}

func statusForKind(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindLookup:
		return http.StatusNotFound
	case ledger.KindPolicy:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseAccountID(raw string) (ledger.AccountID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, ledger.ErrInvalidAccountID
	}
	return ledger.NewAccountID(value)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
