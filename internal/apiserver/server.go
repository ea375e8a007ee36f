// Package apiserver is the HTTP facade: session-validated member API plus
// the unauthenticated, signature-verified payment webhook.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/sweetstamps/membership/internal/gateway/stripepay"
	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/ordersync"
	"github.com/sweetstamps/membership/pkg/recharge"
)

// SyncTrigger runs one manual sync cycle.
type SyncTrigger interface {
	Trigger(ctx context.Context, window ordersync.Window) (ordersync.Report, error)
}

// WebhookVerifier authenticates and decodes payment webhook payloads.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (stripepay.Event, error)
}

// Services bundles the dependencies the HTTP facade serves.
type Services struct {
	Ledger   *ledger.Service
	Discount *discount.Service
	Recharge *recharge.Service
	Sync     SyncTrigger
	Webhook  WebhookVerifier
}

// Run boots the HTTP facade and blocks until the context is canceled.
func Run(ctx context.Context, cfg Config, services Services, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		cfg:      cfg,
		services: services,
	}
	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The webhook authenticates through its signature, not a session.
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware("auth_claims"))

	api.POST("/register", handler.handleRegister)
	api.GET("/wallet", handler.handleWallet)
	api.GET("/wallet/audit", handler.handleAudit)
	api.POST("/redeem", handler.handleRedeem)
	api.POST("/redeem/compensate", handler.handleCompensate)
	api.GET("/codes", handler.handleListCodes)
	api.POST("/recharges", handler.handleCreateRecharge)
	api.GET("/recharges", handler.handleListRecharges)
	api.POST("/memberships", handler.handleCreateMembership)
	api.POST("/payments/confirm", handler.handleConfirmPayment)
	api.POST("/sync", handler.handleSyncTrigger)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	cfg      Config
	services Services
}

type registerRequest struct {
	ReferrerMemberCode string `json:"referrer_member_code"`
}

func (handler *httpHandler) handleRegister(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	var request registerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	if account, err := handler.services.Ledger.GetAccount(ctx.Request.Context(), accountID); err == nil {
		ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
		return
	} else if !errors.Is(err, ledger.ErrUnknownAccount) {
		handler.respondError(ctx, err)
		return
	}

	profile := ledger.Profile{AccountID: accountID}
	if request.ReferrerMemberCode != "" {
		memberCode, err := ledger.NewMemberCode(request.ReferrerMemberCode)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		profile.ReferrerMemberCode = &memberCode
	}

	account, err := handler.services.Ledger.Register(ctx.Request.Context(), profile)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"account": accountPayloadFrom(account)})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	account, err := handler.services.Ledger.GetAccount(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	transactions, err := handler.services.Ledger.ListTransactions(ctx.Request.Context(), accountID, 0, walletHistoryLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	history := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		history = append(history, transactionPayloadFrom(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account":      accountPayloadFrom(account),
		"transactions": history,
	})
}

func (handler *httpHandler) handleAudit(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	view, err := handler.services.Ledger.Audit(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance_cents": view.BalanceCents.Int64(),
		"stamps":        view.Stamps.Int64(),
		"verified":      true,
	})
}

type redeemRequest struct {
	DiscountCents int64 `json:"discount_cents"`
	ExpireMonths  int   `json:"expire_months"`
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	redemption, err := handler.services.Discount.RedeemWithStamps(
		ctx.Request.Context(), accountID, ledger.AmountCents(request.DiscountCents), request.ExpireMonths)
	if err != nil {
		var partial *discount.PartialRedemptionError
		if errors.As(err, &partial) {
			handler.logger.Error("redemption stranded after stamps debit",
				zap.String("transaction_id", partial.TransactionID),
				zap.Error(err))
			ctx.JSON(http.StatusBadGateway, gin.H{
				"error": gin.H{
					"code":           "partial_redemption",
					"message":        "stamps were debited but the code was not issued",
					"transaction_id": partial.TransactionID,
				},
			})
			return
		}
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"code":             codePayloadFrom(redemption.DiscountCode),
		"stamps_used":      redemption.StampsUsed.Int64(),
		"remaining_stamps": redemption.RemainingStamps.Int64(),
		"transaction_id":   redemption.TransactionID,
	})
}

type compensateRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (handler *httpHandler) handleCompensate(ctx *gin.Context) {
	if _, ok := handler.accountID(ctx); !ok {
		return
	}
	var request compensateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.TransactionID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "transaction_id is required"))
		return
	}
	transaction, err := handler.services.Discount.Compensate(ctx.Request.Context(), request.TransactionID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": transactionPayloadFrom(transaction)})
}

func (handler *httpHandler) handleListCodes(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	offset, limit := pagination(ctx)
	codes, total, err := handler.services.Discount.ListDiscountCodes(ctx.Request.Context(), accountID, offset, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]codePayload, 0, len(codes))
	for _, code := range codes {
		payloads = append(payloads, codePayloadFrom(code))
	}
	ctx.JSON(http.StatusOK, gin.H{"codes": payloads, "total": total})
}

type rechargeRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (handler *httpHandler) handleCreateRecharge(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	var request rechargeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	result, err := handler.services.Recharge.CreatePaymentIntent(ctx.Request.Context(), accountID, ledger.AmountCents(request.AmountCents))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"payment_ref":   result.PaymentIntent.ID,
		"client_secret": result.PaymentIntent.ClientSecret,
		"recharge":      rechargePayloadFrom(*result.Recharge),
	})
}

func (handler *httpHandler) handleListRecharges(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	offset, limit := pagination(ctx)
	records, total, err := handler.services.Recharge.ListRechargeRecords(ctx.Request.Context(), accountID, offset, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]rechargePayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, rechargePayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"recharges": payloads, "total": total})
}

type membershipRequest struct {
	TargetTier string `json:"target_tier"`
}

func (handler *httpHandler) handleCreateMembership(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	var request membershipRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	targetTier, err := ledger.ParseTier(request.TargetTier)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := handler.services.Recharge.CreateMembershipIntent(ctx.Request.Context(), accountID, targetTier)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"payment_ref":   result.PaymentIntent.ID,
		"client_secret": result.PaymentIntent.ClientSecret,
		"membership":    membershipPayloadFrom(*result.Membership),
	})
}

type confirmRequest struct {
	PaymentRef string `json:"payment_ref"`
}

func (handler *httpHandler) handleConfirmPayment(ctx *gin.Context) {
	if _, ok := handler.accountID(ctx); !ok {
		return
	}
	var request confirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.PaymentRef == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "payment_ref is required"))
		return
	}
	confirmation, err := handler.services.Recharge.Confirm(ctx.Request.Context(), request.PaymentRef)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, confirmationPayloadFrom(confirmation))
}

type syncRequest struct {
	StartUnixUTC int64 `json:"start_unix_utc"`
	EndUnixUTC   int64 `json:"end_unix_utc"`
}

func (handler *httpHandler) handleSyncTrigger(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	if !handler.cfg.AdminAccount(accountID.String()) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin access required"))
		return
	}
	var request syncRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	report, err := handler.services.Sync.Trigger(ctx.Request.Context(), ordersync.Window{
		StartUnixUTC: request.StartUnixUTC,
		EndUnixUTC:   request.EndUnixUTC,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"state":             report.State.String(),
		"orders_processed":  report.OrdersProcessed,
		"orders_skipped":    report.OrdersSkipped,
		"coupons_processed": report.CouponsProcessed,
	})
}

func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	event, err := handler.services.Webhook.VerifyWebhook(payload, ctx.GetHeader(stripepay.SignatureHeader()))
	if err != nil {
		if errors.Is(err, stripepay.ErrUnsupportedEvent) {
			ctx.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		handler.logger.Warn("webhook signature rejected", zap.Error(err))
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature verification failed"))
		return
	}

	if _, err := handler.services.Recharge.HandleWebhook(ctx.Request.Context(), event.PaymentRef, event.Status); err != nil {
		// 200 keeps the platform from retrying; reconciliation is
		// idempotent and a later confirm can settle the record.
		handler.logger.Error("webhook reconciliation failed",
			zap.String("payment_ref", event.PaymentRef),
			zap.Error(err))
		ctx.JSON(http.StatusOK, gin.H{"received": true, "error": "processing failed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}

func (handler *httpHandler) accountID(ctx *gin.Context) (ledger.AccountID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.AccountID{}, false
	}
	accountID, err := ledger.NewAccountID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return ledger.AccountID{}, false
	}
	return accountID, true
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound, "unknown_account"
	case errors.Is(err, ledger.ErrUnknownTransaction):
		return http.StatusNotFound, "unknown_transaction"
	case errors.Is(err, recharge.ErrUnknownPaymentRef):
		return http.StatusNotFound, "unknown_payment_ref"
	case errors.Is(err, discount.ErrUnknownDiscountCode):
		return http.StatusNotFound, "unknown_code"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, recharge.ErrPaymentNotSettled):
		return http.StatusConflict, "payment_not_settled"
	case errors.Is(err, recharge.ErrAlreadyThisTier):
		return http.StatusConflict, "already_this_tier"
	case errors.Is(err, ordersync.ErrSyncRunning):
		return http.StatusConflict, "sync_running"
	case errors.Is(err, ledger.ErrInvalidMemberCode),
		errors.Is(err, ledger.ErrInvalidTier),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, discount.ErrUnsupportedDiscountAmount),
		errors.Is(err, discount.ErrInvalidExpireMonths),
		errors.Is(err, discount.ErrNotCompensatable),
		errors.Is(err, recharge.ErrInvalidRechargeAmount),
		errors.Is(err, recharge.ErrInvalidTargetTier),
		errors.Is(err, recharge.ErrTierDowngrade),
		errors.Is(err, ordersync.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrProjectionMismatch):
		return http.StatusInternalServerError, "projection_mismatch"
	}
	return http.StatusInternalServerError, "internal_error"
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get("auth_claims")
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func pagination(ctx *gin.Context) (int, int) {
	offset := intQuery(ctx, "offset", 0)
	limit := intQuery(ctx, "limit", defaultPageLimit)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	return offset, limit
}

func intQuery(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	var value int
	if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
		return fallback
	}
	return value
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
