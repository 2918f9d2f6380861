package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/crowdfund/internal/token"
	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorInvalidWindow            = "invalid_window"
	errorInvalidGoal              = "invalid_goal"
	errorInvalidCampaignID        = "invalid_campaign_id"
	errorInvalidAmount            = "invalid_amount_cents"
	errorInvalidPrincipal         = "invalid_principal"
	errorCampaignNotFound         = "campaign_not_found"
	errorNotCreator               = "not_creator"
	errorAlreadyStarted           = "already_started"
	errorNotStarted               = "not_started"
	errorEnded                    = "ended"
	errorNotEnded                 = "not_ended"
	errorGoalNotReached           = "goal_not_reached"
	errorGoalReached              = "goal_reached"
	errorAlreadyClaimed           = "already_claimed"
	errorInsufficientContribution = "insufficient_contribution"
	errorNoContribution           = "no_contribution"
	errorInsufficientBalance      = "insufficient_token_balance"
	errorInternal                 = "internal_error"

	maxListCampaignsLimit = 200
)

// Server exposes the campaign ledger over HTTP.
type Server struct {
	logger   *zap.Logger
	campaign *crowdfund.Service
	tokens   *token.Service
	cfg      Config
}

// New constructs a Server for the ledger service.
func New(cfg Config, logger *zap.Logger, campaignService *crowdfund.Service, tokenService *token.Service) *Server {
	return &Server{
		logger:   logger,
		campaign: campaignService,
		tokens:   tokenService,
		cfg:      cfg,
	}
}

// Router assembles the gin engine with middleware and routes.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(principalMiddleware([]byte(server.cfg.TokenSigningKey), server.cfg.TokenIssuer))

	api.POST("/campaigns", server.handleLaunch)
	api.GET("/campaigns", server.handleListCampaigns)
	api.GET("/campaigns/:id", server.handleGetCampaign)
	api.DELETE("/campaigns/:id", server.handleCancel)
	api.POST("/campaigns/:id/contributions", server.handleContribute)
	api.POST("/campaigns/:id/withdrawals", server.handleWithdraw)
	api.POST("/campaigns/:id/claim", server.handleClaim)
	api.POST("/campaigns/:id/refund", server.handleRefund)
	api.GET("/campaigns/:id/pledge", server.handlePledge)
	api.GET("/next-campaign-id", server.handleNextCampaignID)
	api.POST("/faucet", server.handleFaucet)
	api.GET("/balance", server.handleBalance)

	return router
}

// Run serves the API until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type launchRequest struct {
	GoalCents      int64 `json:"goal_cents"`
	StartAtUnixUTC int64 `json:"start_at_unix_utc"`
	EndAtUnixUTC   int64 `json:"end_at_unix_utc"`
}

type amountRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (server *Server) handleLaunch(ctx *gin.Context) {
	caller, ok := callerPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing principal"))
		return
	}
	var request launchRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	goal, err := crowdfund.NewGoalCents(request.GoalCents)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	campaignID, err := server.campaign.Launch(ctx.Request.Context(), caller, goal, request.StartAtUnixUTC, request.EndAtUnixUTC)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"campaign_id": campaignID.Int64()})
}

func (server *Server) handleCancel(ctx *gin.Context) {
	caller, campaignID, ok := server.callerAndCampaign(ctx)
	if !ok {
		return
	}
	if err := server.campaign.Cancel(ctx.Request.Context(), caller, campaignID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (server *Server) handleContribute(ctx *gin.Context) {
	caller, campaignID, ok := server.callerAndCampaign(ctx)
	if !ok {
		return
	}
	amount, ok := server.bindAmount(ctx)
	if !ok {
		return
	}
	if err := server.campaign.Contribute(ctx.Request.Context(), caller, campaignID, amount); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondPledge(ctx, campaignID, caller)
}

func (server *Server) handleWithdraw(ctx *gin.Context) {
	caller, campaignID, ok := server.callerAndCampaign(ctx)
	if !ok {
		return
	}
	amount, ok := server.bindAmount(ctx)
	if !ok {
		return
	}
	if err := server.campaign.WithdrawPledge(ctx.Request.Context(), caller, campaignID, amount); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondPledge(ctx, campaignID, caller)
}

func (server *Server) handleClaim(ctx *gin.Context) {
	caller, campaignID, ok := server.callerAndCampaign(ctx)
	if !ok {
		return
	}
	if err := server.campaign.ClaimFunds(ctx.Request.Context(), caller, campaignID); err != nil {
		server.respondError(ctx, err)
		return
	}
	campaign, err := server.campaign.Campaign(ctx.Request.Context(), campaignID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":     "claimed",
		"paid_cents": campaign.TotalContributionCents().Int64(),
	})
}

func (server *Server) handleRefund(ctx *gin.Context) {
	caller, campaignID, ok := server.callerAndCampaign(ctx)
	if !ok {
		return
	}
	if err := server.campaign.GetRefund(ctx.Request.Context(), caller, campaignID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

func (server *Server) handleGetCampaign(ctx *gin.Context) {
	campaignID, ok := server.campaignIDParam(ctx)
	if !ok {
		return
	}
	campaign, err := server.campaign.Campaign(ctx.Request.Context(), campaignID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, campaignPayloadFrom(campaign))
}

func (server *Server) handleListCampaigns(ctx *gin.Context) {
	beforeID, ok := queryInt(ctx, "before_id")
	if !ok {
		return
	}
	limit, ok := queryInt(ctx, "limit")
	if !ok {
		return
	}
	if limit > maxListCampaignsLimit {
		limit = maxListCampaignsLimit
	}
	campaigns, err := server.campaign.ListCampaigns(ctx.Request.Context(), beforeID, int(limit))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]campaignPayload, 0, len(campaigns))
	for _, campaign := range campaigns {
		payloads = append(payloads, campaignPayloadFrom(campaign))
	}
	ctx.JSON(http.StatusOK, gin.H{"campaigns": payloads})
}

func (server *Server) handlePledge(ctx *gin.Context) {
	caller, campaignID, ok := server.callerAndCampaign(ctx)
	if !ok {
		return
	}
	server.respondPledge(ctx, campaignID, caller)
}

func (server *Server) handleNextCampaignID(ctx *gin.Context) {
	next, err := server.campaign.NextCampaignID(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"next_campaign_id": next})
}

func (server *Server) handleFaucet(ctx *gin.Context) {
	caller, ok := callerPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing principal"))
		return
	}
	amount, ok := server.bindAmount(ctx)
	if !ok {
		return
	}
	if err := server.tokens.Deposit(ctx.Request.Context(), caller, amount.ToAmountCents()); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondBalance(ctx, caller)
}

func (server *Server) handleBalance(ctx *gin.Context) {
	caller, ok := callerPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing principal"))
		return
	}
	server.respondBalance(ctx, caller)
}

func (server *Server) respondBalance(ctx *gin.Context, principal crowdfund.Principal) {
	balance, err := server.tokens.Balance(ctx.Request.Context(), principal)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance_cents": balance})
}

func (server *Server) respondPledge(ctx *gin.Context, campaignID crowdfund.CampaignID, contributor crowdfund.Principal) {
	pledge, err := server.campaign.PledgeAmount(ctx.Request.Context(), campaignID, contributor)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"campaign_id":  campaignID.Int64(),
		"contributor":  contributor.String(),
		"pledge_cents": pledge.Int64(),
	})
}

func (server *Server) callerAndCampaign(ctx *gin.Context) (crowdfund.Principal, crowdfund.CampaignID, bool) {
	caller, ok := callerPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing principal"))
		return crowdfund.Principal{}, crowdfund.CampaignID{}, false
	}
	campaignID, ok := server.campaignIDParam(ctx)
	if !ok {
		return crowdfund.Principal{}, crowdfund.CampaignID{}, false
	}
	return caller, campaignID, true
}

func (server *Server) campaignIDParam(ctx *gin.Context) (crowdfund.CampaignID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidCampaignID, "campaign id must be a positive integer"))
		return crowdfund.CampaignID{}, false
	}
	campaignID, err := crowdfund.NewCampaignID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidCampaignID, "campaign id must be a positive integer"))
		return crowdfund.CampaignID{}, false
	}
	return campaignID, true
}

// queryInt parses an optional non-negative integer query parameter. A missing
// parameter reads as zero; a malformed one is rejected with 400.
func queryInt(ctx *gin.Context, name string) (int64, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", name+" must be a non-negative integer"))
		return 0, false
	}
	return value, true
}

func (server *Server) bindAmount(ctx *gin.Context) (crowdfund.PositiveAmountCents, bool) {
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return 0, false
	}
	amount, err := crowdfund.NewPositiveAmountCents(request.AmountCents)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidAmount, "amount must be a positive number of cents"))
		return 0, false
	}
	return amount, true
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	statusCode, code := mapToHTTPError(err)
	if statusCode == http.StatusInternalServerError {
		server.logger.Error("ledger request failed", zap.Error(err))
	}
	ctx.JSON(statusCode, errorResponse(code, err.Error()))
}

func mapToHTTPError(source error) (int, string) {
	switch {
	case errors.Is(source, crowdfund.ErrInvalidWindow):
		return http.StatusBadRequest, errorInvalidWindow
	case errors.Is(source, crowdfund.ErrInvalidGoal):
		return http.StatusBadRequest, errorInvalidGoal
	case errors.Is(source, crowdfund.ErrInvalidCampaignID):
		return http.StatusBadRequest, errorInvalidCampaignID
	case errors.Is(source, crowdfund.ErrInvalidAmountCents):
		return http.StatusBadRequest, errorInvalidAmount
	case errors.Is(source, crowdfund.ErrInvalidPrincipal):
		return http.StatusBadRequest, errorInvalidPrincipal
	case errors.Is(source, crowdfund.ErrCampaignNotFound):
		return http.StatusNotFound, errorCampaignNotFound
	case errors.Is(source, crowdfund.ErrNotCreator):
		return http.StatusForbidden, errorNotCreator
	case errors.Is(source, crowdfund.ErrAlreadyStarted):
		return http.StatusConflict, errorAlreadyStarted
	case errors.Is(source, crowdfund.ErrNotStarted):
		return http.StatusConflict, errorNotStarted
	case errors.Is(source, crowdfund.ErrEnded):
		return http.StatusConflict, errorEnded
	case errors.Is(source, crowdfund.ErrNotEnded):
		return http.StatusConflict, errorNotEnded
	case errors.Is(source, crowdfund.ErrGoalNotReached):
		return http.StatusConflict, errorGoalNotReached
	case errors.Is(source, crowdfund.ErrGoalReached):
		return http.StatusConflict, errorGoalReached
	case errors.Is(source, crowdfund.ErrAlreadyClaimed):
		return http.StatusConflict, errorAlreadyClaimed
	case errors.Is(source, crowdfund.ErrInsufficientContribution):
		return http.StatusConflict, errorInsufficientContribution
	case errors.Is(source, crowdfund.ErrNoContribution):
		return http.StatusConflict, errorNoContribution
	case errors.Is(source, token.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorInsufficientBalance
	default:
		return http.StatusInternalServerError, errorInternal
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type campaignPayload struct {
	CampaignID     int64  `json:"campaign_id"`
	Creator        string `json:"creator"`
	GoalCents      int64  `json:"goal_cents"`
	StartAtUnixUTC int64  `json:"start_at_unix_utc"`
	EndAtUnixUTC   int64  `json:"end_at_unix_utc"`
	TotalCents     int64  `json:"total_contribution_cents"`
	Claimed        bool   `json:"claimed"`
}

func campaignPayloadFrom(campaign crowdfund.Campaign) campaignPayload {
	return campaignPayload{
		CampaignID:     campaign.ID().Int64(),
		Creator:        campaign.Creator().String(),
		GoalCents:      campaign.GoalCents().Int64(),
		StartAtUnixUTC: campaign.StartAtUnixUTC(),
		EndAtUnixUTC:   campaign.EndAtUnixUTC(),
		TotalCents:     campaign.TotalContributionCents().Int64(),
		Claimed:        campaign.Claimed(),
	}
}
