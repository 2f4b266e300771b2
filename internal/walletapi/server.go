package walletapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	claimsContextKey = "auth_claims"
	userContextKey   = "wallet_user_id"
)

// NotificationFeed returns the recent notifications of one user, newest first.
type NotificationFeed interface {
	Recent(userID wallet.UserID, limit int) []wallet.Notification
}

// Dependencies are the collaborators served by the HTTP API.
type Dependencies struct {
	Session *wallet.Session
	Staging wallet.BonusStaging
	Feed    NotificationFeed
	Metrics http.Handler
	Logger  *zap.Logger
}

// Run serves the wallet API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if deps.Session == nil {
		return fmt.Errorf("wallet session is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := newHTTPHandler(cfg, deps, logger)
	router := setupRouter(cfg, handler, sessionValidator, deps.Metrics)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		deps.Session.Unbind(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, metricsHandler http.Handler) *gin.Engine {
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
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api")
	api.Use(handler.limitRequests)
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.Use(handler.bindIdentity)

	api.GET("/wallet", handler.handleWallet)
	api.POST("/credit", handler.handleCredit)
	api.POST("/debit", handler.handleDebit)
	api.POST("/points/credit", handler.handleCreditPoints)
	api.POST("/points/debit", handler.handleDebitPoints)
	api.POST("/transactions", handler.handleTransaction)
	api.POST("/withdrawals", handler.handleWithdrawal)
	api.POST("/signup-bonus", handler.handleSignupBonus)
	api.GET("/notifications", handler.handleNotifications)
	api.POST("/logout", handler.handleLogout)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	session *wallet.Session
	staging wallet.BonusStaging
	feed    NotificationFeed
	limiter *rate.Limiter
	cfg     Config

	// identityMu serialises requests because the session holds one identity at a time.
	identityMu sync.Mutex
}

func newHTTPHandler(cfg Config, deps Dependencies, logger *zap.Logger) *httpHandler {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &httpHandler{
		logger:  logger,
		session: deps.Session,
		staging: deps.Staging,
		feed:    deps.Feed,
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		cfg:     cfg,
	}
}

func (handler *httpHandler) limitRequests(ctx *gin.Context) {
	if !handler.limiter.Allow() {
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse("rate_limited", "too many requests"))
		return
	}
	ctx.Next()
}

// bindIdentity points the session at the caller before the handler runs.
func (handler *httpHandler) bindIdentity(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := wallet.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing user id"))
		return
	}

	handler.identityMu.Lock()
	defer handler.identityMu.Unlock()

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	err = handler.session.EnsureBound(requestCtx, userID)
	cancel()
	if err != nil {
		handler.logger.Error("wallet bind failed", zap.String("user_id", userID.String()), zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusBadGateway, errorResponse("wallet_error", "wallet unavailable"))
		return
	}
	ctx.Set(userContextKey, userID)
	ctx.Next()
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	handler.respondWithWallet(ctx, http.StatusOK)
}

func (handler *httpHandler) handleCredit(ctx *gin.Context) {
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.session.Credit(requestCtx, request.Amount); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, http.StatusOK)
}

func (handler *httpHandler) handleDebit(ctx *gin.Context) {
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.session.Debit(requestCtx, request.Amount); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, http.StatusOK)
}

func (handler *httpHandler) handleCreditPoints(ctx *gin.Context) {
	var request pointsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.session.CreditPoints(requestCtx, request.Points); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, http.StatusOK)
}

func (handler *httpHandler) handleDebitPoints(ctx *gin.Context) {
	var request pointsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.session.DebitPoints(requestCtx, request.Points); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, http.StatusOK)
}

func (handler *httpHandler) handleTransaction(ctx *gin.Context) {
	var request transactionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.session.RecordTransaction(requestCtx, wallet.TransactionInput{
		Type:        wallet.TransactionType(request.Type),
		Description: request.Description,
		Amount:      request.Amount,
		Points:      request.Points,
		Status:      wallet.TransactionStatus(request.Status),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithTransaction(ctx, transaction)
}

func (handler *httpHandler) handleWithdrawal(ctx *gin.Context) {
	var request withdrawalRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.session.WithdrawChecked(requestCtx, request.Amount, request.Description)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithTransaction(ctx, transaction)
}

// handleSignupBonus stages a bonus for the caller and settles it right away.
func (handler *httpHandler) handleSignupBonus(ctx *gin.Context) {
	if handler.staging == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("staging_unavailable", "signup bonus staging is not configured"))
		return
	}
	var request signupBonusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if !request.BaseBonus.IsPositive() || request.ReferralBonus.IsNegative() {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "baseBonus must be positive and referralBonus must not be negative"))
		return
	}

	processed, err := handler.session.SignupBonusProcessed()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if processed {
		handler.respondWithSettlement(ctx, wallet.SettlementAlreadyProcessed)
		return
	}

	userID := currentUser(ctx)
	payload, err := wallet.MarshalBonusPayload(wallet.BonusPayload{
		UserID:        userID,
		BaseBonus:     request.BaseBonus,
		ReferralBonus: request.ReferralBonus,
		ReferralCode:  request.ReferralCode,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if _, err := wallet.ParseBonusPayload(payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	// The slot holds one payload; a parseable one staged for someone else waits for its owner.
	staged, found, err := handler.staging.Load(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if found {
		if pending, parseErr := wallet.ParseBonusPayload(staged); parseErr == nil && pending.UserID != userID {
			ctx.JSON(http.StatusConflict, errorResponse("bonus_pending", "another signup bonus is awaiting settlement"))
			return
		}
	}
	if err := handler.staging.Stage(requestCtx, payload); err != nil {
		handler.respondError(ctx, err)
		return
	}
	outcome, err := handler.session.SettleSignupBonus(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithSettlement(ctx, outcome)
}

func (handler *httpHandler) handleNotifications(ctx *gin.Context) {
	limit := handler.cfg.NotificationLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	notifications := []wallet.Notification{}
	if handler.feed != nil {
		notifications = handler.feed.Recent(currentUser(ctx), limit)
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": newNotificationPayloads(notifications)})
}

func (handler *httpHandler) handleLogout(ctx *gin.Context) {
	handler.session.Unbind(ctx.Request.Context())
	ctx.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (handler *httpHandler) respondWithWallet(ctx *gin.Context, status int) {
	snapshot, err := handler.session.Snapshot()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(status, gin.H{"wallet": newWalletPayload(snapshot)})
}

func (handler *httpHandler) respondWithTransaction(ctx *gin.Context, transaction wallet.Transaction) {
	snapshot, err := handler.session.Snapshot()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"transaction": newTransactionPayload(transaction),
		"wallet":      newWalletPayload(snapshot),
	})
}

func (handler *httpHandler) respondWithSettlement(ctx *gin.Context, outcome wallet.SettlementOutcome) {
	snapshot, err := handler.session.Snapshot()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"outcome": string(outcome),
		"wallet":  newWalletPayload(snapshot),
	})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	if insufficient, ok := wallet.AsInsufficientFunds(err); ok {
		ctx.JSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":    "insufficient_funds",
				"message": fmt.Sprintf("Insufficient funds: you need %s more", insufficient.Shortfall().String()),
			},
			"shortfall":        insufficient.Shortfall().String(),
			"shortfall_points": insufficient.ShortfallPoints(),
		})
		return
	}
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrInvalidPoints):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
	case errors.Is(err, wallet.ErrInvalidTransactionType), errors.Is(err, wallet.ErrInvalidTransactionStatus):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_transaction", err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		handler.logger.Warn("wallet request timed out", zap.Error(err))
		ctx.JSON(http.StatusGatewayTimeout, errorResponse("timeout", "wallet request timed out"))
	default:
		handler.logger.Error("wallet operation failed", zap.Error(err))
		response := errorResponse("wallet_error", "wallet unavailable")
		if code := wallet.FailureCode(err); code != "" {
			response["failure"] = code
		}
		ctx.JSON(http.StatusBadGateway, response)
	}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func currentUser(ctx *gin.Context) wallet.UserID {
	value, ok := ctx.Get(userContextKey)
	if !ok {
		return wallet.UserID{}
	}
	userID, _ := value.(wallet.UserID)
	return userID
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
