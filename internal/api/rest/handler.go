package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caspy-social/caspy-backend/internal/access"
	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/rewards"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
	"github.com/caspy-social/caspy-backend/internal/trades"
	"github.com/caspy-social/caspy-backend/internal/ws"
)

// maxPendingWait caps how long the pending-payment poll blocks. Must stay
// under the server write timeout.
const maxPendingWait = 25 * time.Second

// DeployRPC resolves the execution state of a deploy. Satisfied by
// casper.RPCClient.
type DeployRPC interface {
	GetDeployStatus(ctx context.Context, deployHash string) (*casper.DeployStatus, error)
}

// OwnerResolver looks up a token's on-chain owner through its contract
// package. Satisfied by casper.CloudClient.
type OwnerResolver interface {
	GetContractPackageOwner(ctx context.Context, packageHash string) (string, error)
}

// CTOSettings is the takeover configuration the API exposes and enforces.
type CTOSettings struct {
	// ReceiverWallet is the public key payments must be sent to
	ReceiverWallet string
	// ReceiverAccountHash is the same account as seen on the transfer stream
	ReceiverAccountHash string
	PriceMotes          uint64
	InactivityDays      int
	// Network is the only network takeovers are accepted on
	Network domain.Network
}

// Handler carries the dependencies of the REST endpoints.
type Handler struct {
	store       store.Store
	ledger      *access.Ledger
	feed        *trades.Feed
	hub         *ws.Hub
	rpc         DeployRPC
	owners      OwnerResolver
	clock       adapter.Clock
	waiter      *PaymentWaiter
	distributor *rewards.Distributor
	cto         CTOSettings
}

// NewHandler creates a REST handler.
func NewHandler(
	s store.Store,
	ledger *access.Ledger,
	feed *trades.Feed,
	hub *ws.Hub,
	rpc DeployRPC,
	owners OwnerResolver,
	clock adapter.Clock,
	waiter *PaymentWaiter,
	distributor *rewards.Distributor,
	cto CTOSettings,
) *Handler {
	return &Handler{
		store:       s,
		ledger:      ledger,
		feed:        feed,
		hub:         hub,
		rpc:         rpc,
		owners:      owners,
		clock:       clock,
		waiter:      waiter,
		distributor: distributor,
		cto:         cto,
	}
}

// NotifyPayment feeds an observed payment into the pending-payment waiters.
// Wired to the JetStream payment subscription.
func (h *Handler) NotifyPayment(ctx context.Context, payment *domain.PaymentObserved) {
	h.waiter.Notify(payment)
}

// NotifyTrade records a trade into the ring buffer and fans it out to the
// token's chat room. Wired to the JetStream trade subscription.
func (h *Handler) NotifyTrade(ctx context.Context, trade *domain.Trade) {
	h.feed.Record(*trade)
	h.hub.BroadcastTrade(trade)
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// GetCTOConfig returns the takeover payment parameters clients need before
// sending funds
// GET /api/v1/cto/config
func (h *Handler) GetCTOConfig(c *gin.Context) {
	if h.cto.ReceiverWallet == "" {
		respondWithError(c, http.StatusServiceUnavailable, errCodeInternalError,
			"Takeover payments are not configured")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"receiver_wallet":       h.cto.ReceiverWallet,
		"receiver_account_hash": h.cto.ReceiverAccountHash,
		"price_motes":           strconv.FormatUint(h.cto.PriceMotes, 10),
		"price_cspr":            domain.FormatCSPR(h.cto.PriceMotes),
		"inactivity_days":       h.cto.InactivityDays,
		"network":               h.cto.Network,
	})
}

// GetAccess reports whether a wallet currently controls a token
// GET /api/v1/cto/access/:tokenHash/:wallet
func (h *Handler) GetAccess(c *gin.Context) {
	tokenHash := c.Param("tokenHash")
	wallet := c.Param("wallet")
	if tokenHash == "" || wallet == "" {
		respondBadRequest(c, "Token hash and wallet are required")
		return
	}

	ctx := c.Request.Context()
	status, err := h.ledger.CheckAccess(ctx, tokenHash, h.network(c), wallet, h.resolveOwner(ctx, tokenHash))
	if err != nil {
		respondInternalError(c, err, "Failed to check access")
		return
	}

	resp := gin.H{
		"has_access":    status.HasAccess,
		"is_owner":      status.IsOwner,
		"is_cto_holder": status.IsCTOHolder,
	}
	if status.Grant != nil {
		resp["holder"] = status.Grant.HolderAddress
		resp["owner_grant"] = status.Grant.IsOwner
		resp["granted_at"] = status.Grant.GrantedAt.UTC().Format(time.RFC3339)
		resp["last_activity_at"] = status.Grant.LastActivityAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// resolveOwner looks up the token's on-chain owner, returning empty when the
// package is unknown or the lookup fails. A missed lookup only suppresses the
// owner's free access for this request; it never grants anything.
func (h *Handler) resolveOwner(ctx context.Context, tokenHash string) string {
	if h.owners == nil {
		return ""
	}
	owner, err := h.owners.GetContractPackageOwner(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, domain.ErrOwnerNotFound) {
			logger.WarnCtx(ctx, "owner lookup failed: "+err.Error(),
				zap.String("token", domain.NormalizeHash(tokenHash)))
		}
		return ""
	}
	return owner
}

// GetAvailability reports whether a token's publishing rights can be claimed
// GET /api/v1/cto/availability/:tokenHash
func (h *Handler) GetAvailability(c *gin.Context) {
	tokenHash := c.Param("tokenHash")
	if tokenHash == "" {
		respondBadRequest(c, "Token hash is required")
		return
	}

	availability, err := h.ledger.Evaluator().Evaluate(c.Request.Context(), tokenHash, h.network(c))
	if err != nil {
		respondInternalError(c, err, "Failed to evaluate availability")
		return
	}
	c.JSON(http.StatusOK, availability)
}

// linkRequest is the body of the payment-linking endpoint
type linkRequest struct {
	TokenHash     string `json:"token_hash" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	DeployHash    string `json:"deploy_hash" binding:"required"`
	Network       string `json:"network"`
}

// LinkPayment links an observed payment to a token, completing the takeover
// POST /api/v1/cto/link
func (h *Handler) LinkPayment(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	network := h.cto.Network
	if req.Network != "" {
		network = domain.Network(req.Network)
		if !network.Valid() {
			respondValidationError(c, "unknown network: "+req.Network)
			return
		}
	}
	if network != domain.NetworkMainnet {
		respondForbidden(c, errCodeTestnetBlocked,
			"Takeovers are only accepted on mainnet")
		return
	}

	ctx := c.Request.Context()
	deployHash := domain.NormalizeHash(req.DeployHash)

	payment, err := h.store.GetPendingPayment(ctx, deployHash)
	if err != nil {
		respondInternalError(c, err, "Failed to look up payment")
		return
	}
	if payment == nil {
		h.respondUnseenPayment(c, deployHash)
		return
	}

	wallet := domain.NormalizeHash(req.WalletAddress)
	if domain.NormalizeHash(payment.SenderPublicKey) != wallet {
		respondForbidden(c, errCodeForbidden,
			"Payment was sent by a different wallet")
		return
	}

	grant, err := h.ledger.Grant(ctx, access.Claim{
		TokenHash:       req.TokenHash,
		Network:         network,
		Wallet:          req.WalletAddress,
		TransactionHash: deployHash,
		PaidAmount:      payment.Amount,
	})
	if err != nil {
		h.respondClaimError(c, err)
		return
	}

	if err := h.store.MarkPaymentLinked(ctx, deployHash, h.clock.Now()); err != nil &&
		!errors.Is(err, domain.ErrPendingPaymentNotFound) {
		logger.ErrorCtx(ctx, err, zap.String("deploy_hash", deployHash))
	}

	c.JSON(http.StatusOK, gin.H{
		"verified": true,
		"access": gin.H{
			"token_hash":  grant.TokenHash,
			"holder":      grant.HolderAddress,
			"paid_amount": strconv.FormatUint(grant.PaidAmount, 10),
			"granted_at":  grant.GrantedAt.UTC().Format(time.RFC3339),
		},
	})
}

// respondUnseenPayment handles a link attempt for a deploy the listener has
// not stored yet: still in the mempool, failed on chain, or simply not
// propagated to us.
func (h *Handler) respondUnseenPayment(c *gin.Context, deployHash string) {
	status, err := h.rpc.GetDeployStatus(c.Request.Context(), deployHash)
	if err != nil {
		if errors.Is(err, domain.ErrDeployNotFound) {
			c.JSON(http.StatusAccepted, gin.H{"pending": true})
			return
		}
		respondInternalError(c, err, "Failed to resolve deploy")
		return
	}
	if status.Executed && !status.Success {
		respondWithError(c, http.StatusBadRequest, errCodePaymentFailed,
			"Payment deploy failed on chain", status.ErrorMessage)
		return
	}
	// Executed but not yet observed by the listener, or still in the mempool;
	// the client retries via the pending endpoint.
	c.JSON(http.StatusAccepted, gin.H{"pending": true})
}

// respondClaimError maps ledger claim failures to HTTP responses
func (h *Handler) respondClaimError(c *gin.Context, err error) {
	var held *access.HeldError
	switch {
	case errors.As(err, &held):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    errCodeAccessHeld,
				"message": "Token is held by an active controller",
			},
			"current_holder": held.CurrentHolder,
			"days_remaining": held.DaysRemaining,
		})
	case errors.Is(err, access.ErrDuplicatePayment):
		respondConflict(c, "Payment already used for another takeover")
	case errors.Is(err, access.ErrPaymentTooSmall):
		respondBadRequest(c, "Payment does not cover the takeover price")
	default:
		respondInternalError(c, err, "Failed to install access grant")
	}
}

// GetPendingPayment polls for a payment the listener may not have seen yet.
// A wait query parameter (seconds) turns the poll into a long poll.
// GET /api/v1/cto/pending/:deployHash
func (h *Handler) GetPendingPayment(c *gin.Context) {
	deployHash := domain.NormalizeHash(c.Param("deployHash"))
	if deployHash == "" {
		respondBadRequest(c, "Deploy hash is required")
		return
	}

	ctx := c.Request.Context()
	payment, err := h.store.GetPendingPayment(ctx, deployHash)
	if err != nil {
		respondInternalError(c, err, "Failed to look up payment")
		return
	}
	if payment != nil {
		c.JSON(http.StatusOK, gin.H{"observed": true, "payment": pendingPaymentBody(payment)})
		return
	}

	wait := parseWait(c.Query("wait"))
	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if observed := h.waiter.Wait(waitCtx, deployHash); observed != nil {
			c.JSON(http.StatusOK, gin.H{"observed": true, "payment": gin.H{
				"deploy_hash":       observed.DeployHash,
				"sender_public_key": observed.SenderPublicKey,
				"amount":            strconv.FormatUint(observed.Amount, 10),
				"network":           observed.Network,
			}})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"observed": false})
}

func pendingPaymentBody(p *schema.PendingPayment) gin.H {
	return gin.H{
		"deploy_hash":       p.DeployHash,
		"sender_public_key": p.SenderPublicKey,
		"amount":            strconv.FormatUint(p.Amount, 10),
		"network":           p.Network,
		"observed_at":       p.ObservedAt.UTC().Format(time.RFC3339),
		"linked":            p.LinkedAt != nil,
	}
}

func parseWait(s string) time.Duration {
	if s == "" {
		return 0
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return 0
	}
	wait := time.Duration(secs) * time.Second
	if wait > maxPendingWait {
		wait = maxPendingWait
	}
	return wait
}

// RevokeAccess removes a wallet's grant on a token, leaving it unclaimed
// DELETE /api/v1/cto/access/:tokenHash/:wallet
func (h *Handler) RevokeAccess(c *gin.Context) {
	tokenHash := c.Param("tokenHash")
	wallet := c.Param("wallet")
	if tokenHash == "" || wallet == "" {
		respondBadRequest(c, "Token hash and wallet are required")
		return
	}

	err := h.ledger.Release(c.Request.Context(), tokenHash, h.network(c), wallet)
	if err != nil {
		if errors.Is(err, domain.ErrGrantNotFound) {
			respondNotFound(c, "No grant held by this wallet")
			return
		}
		respondInternalError(c, err, "Failed to revoke access")
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// GetTrades returns the most recent classified trades for a monitored token
// GET /api/v1/tokens/:tokenHash/trades
func (h *Handler) GetTrades(c *gin.Context) {
	tokenHash := c.Param("tokenHash")
	if tokenHash == "" {
		respondBadRequest(c, "Token hash is required")
		return
	}

	limit := trades.DefaultRingSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondValidationError(c, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	recent := h.feed.Recent(domain.NormalizeHash(tokenHash), limit)
	c.JSON(http.StatusOK, gin.H{"trades": recent})
}

// storyRequest is the body of the story publishing endpoint
type storyRequest struct {
	TokenHash     string `json:"token_hash" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	Caption       string `json:"caption"`
	MediaURL      string `json:"media_url"`
	Network       string `json:"network"`
}

// CreateStory publishes content for a token. Only the token's current
// controller may publish; publishing refreshes the inactivity clock.
// POST /api/v1/stories
func (h *Handler) CreateStory(c *gin.Context) {
	var req storyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	network := h.cto.Network
	if req.Network != "" {
		network = domain.Network(req.Network)
		if !network.Valid() {
			respondValidationError(c, "unknown network: "+req.Network)
			return
		}
	}

	ctx := c.Request.Context()
	status, err := h.ledger.CheckAccess(ctx, req.TokenHash, network, req.WalletAddress, h.resolveOwner(ctx, req.TokenHash))
	if err != nil {
		respondInternalError(c, err, "Failed to check access")
		return
	}
	if !status.HasAccess {
		respondForbidden(c, errCodeForbidden,
			"Wallet does not control this token's content")
		return
	}

	// First publish by the verified owner of an unclaimed token installs a
	// free owner grant, so the inactivity clock starts ticking for them too
	if status.IsOwner && status.Grant == nil {
		if _, err := h.ledger.Grant(ctx, access.Claim{
			TokenHash: req.TokenHash,
			Network:   network,
			Wallet:    req.WalletAddress,
			IsOwner:   true,
		}); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("token", domain.NormalizeHash(req.TokenHash)))
		}
	}

	story := &schema.Story{
		TokenHash:     domain.NormalizeHash(req.TokenHash),
		WalletAddress: domain.NormalizeHash(req.WalletAddress),
		Caption:       req.Caption,
		MediaURL:      req.MediaURL,
		CreatedAt:     h.clock.Now(),
	}
	if err := h.store.CreateStory(ctx, story); err != nil {
		respondInternalError(c, err, "Failed to save story")
		return
	}

	if _, err := h.ledger.RecordActivity(ctx, req.TokenHash, network, req.WalletAddress); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("token", story.TokenHash))
	}

	c.JSON(http.StatusCreated, gin.H{"id": story.ID})
}

// GetStory retrieves a story by ID
// GET /api/v1/stories/:id
func (h *Handler) GetStory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondValidationError(c, "story id must be an integer")
		return
	}

	story, err := h.store.GetStory(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to load story")
		return
	}
	if story == nil {
		respondNotFound(c, "Story not found")
		return
	}
	c.JSON(http.StatusOK, story)
}

// activityRequest is the body of the story activity endpoint
type activityRequest struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// RecordStoryActivity bumps a story's engagement counters and refreshes the
// publisher's inactivity clock
// POST /api/v1/stories/:id/activity
func (h *Handler) RecordStoryActivity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondValidationError(c, "story id must be an integer")
		return
	}

	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if req.Views < 0 || req.Likes < 0 || req.Comments < 0 || req.Shares < 0 {
		respondValidationError(c, "engagement counters cannot decrease")
		return
	}

	ctx := c.Request.Context()
	story, err := h.store.GetStory(ctx, id)
	if err != nil {
		respondInternalError(c, err, "Failed to load story")
		return
	}
	if story == nil {
		respondNotFound(c, "Story not found")
		return
	}

	if err := h.store.AddStoryEngagement(ctx, id, req.Views, req.Likes, req.Comments, req.Shares); err != nil {
		respondInternalError(c, err, "Failed to record engagement")
		return
	}

	if _, err := h.ledger.RecordActivity(ctx, story.TokenHash, h.cto.Network, story.WalletAddress); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("token", story.TokenHash))
	}

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// DistributeRewards runs the daily reward distribution immediately
// POST /api/v1/rewards/distribute
func (h *Handler) DistributeRewards(c *gin.Context) {
	if h.distributor == nil {
		respondWithError(c, http.StatusServiceUnavailable, errCodeInternalError,
			"Reward distribution is not configured")
		return
	}

	result, err := h.distributor.Distribute(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Reward distribution failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// network returns the network a read endpoint operates on, defaulting to the
// configured takeover network
func (h *Handler) network(c *gin.Context) domain.Network {
	if raw := c.Query("network"); raw != "" {
		n := domain.Network(raw)
		if n.Valid() {
			return n
		}
	}
	return h.cto.Network
}
