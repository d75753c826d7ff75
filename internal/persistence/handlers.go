package persistence

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rivora/rivora/internal/behavior"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/pagination"
	"github.com/rivora/rivora/internal/soroban"
	"github.com/rivora/rivora/internal/stellar"
	"github.com/rivora/rivora/internal/validation"
)

// Handler provides HTTP endpoints for saving, submitting and verifying
// score records.
type Handler struct {
	service *Service
}

// NewHandler creates a new persistence handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up persistence endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/blockchain/save-scores", h.SaveScores)
	r.POST("/blockchain/auto-save-scores", h.AutoSaveScores)
	r.POST("/blockchain/submit-transaction", h.SubmitTransaction)

	addr := r.Group("", validation.AddressParamMiddleware())
	addr.GET("/v1/verify/:address", h.Verify)
	addr.GET("/v1/history/:address", h.History)
}

// SaveRequest is the body of the save endpoints.
type SaveRequest struct {
	WalletAddress string   `json:"walletAddress" binding:"required,stellar_address"`
	TrustRating   *float64 `json:"trustRating" binding:"required,gte=0,lte=100"`
	HealthScore   *float64 `json:"healthScore" binding:"required,gte=0,lte=100"`
	UserType      string   `json:"userType" binding:"required,user_type"`
}

// SubmitRequest is the body of the submit endpoint.
type SubmitRequest struct {
	XDR           string `json:"xdr" binding:"required"`
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress" binding:"omitempty,stellar_address"`
}

// SaveScores builds an unsigned draft for the wallet to sign.
// POST /api/blockchain/save-scores
func (h *Handler) SaveScores(c *gin.Context) {
	h.prepare(c, false)
}

// AutoSaveScores is SaveScores for drafts the client requests without user
// interaction. Signing still happens in the wallet.
// POST /api/blockchain/auto-save-scores
func (h *Handler) AutoSaveScores(c *gin.Context) {
	h.prepare(c, true)
}

func (h *Handler) prepare(c *gin.Context, auto bool) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	address := validation.SanitizeAddress(req.WalletAddress)

	draft, err := h.service.PrepareSave(c.Request.Context(), address, *req.TrustRating, *req.HealthScore, req.UserType)
	if err != nil {
		h.mapError(c, err)
		return
	}
	if auto {
		logging.L(c.Request.Context()).Debug("auto-save draft issued", "wallet", address)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"xdr":            draft.XDR,
		"network":        draft.Network,
		"strategy":       draft.Strategy,
		"operationCount": draft.OperationCount,
		"fee":            draft.Fee,
		"hash":           draft.Hash,
	})
}

// SubmitTransaction relays a wallet-signed envelope to the network.
// POST /api/blockchain/submit-transaction
func (h *Handler) SubmitTransaction(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.service.SubmitSigned(c.Request.Context(), req.XDR, req.Network, validation.SanitizeAddress(req.WalletAddress))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"transactionHash": res.Hash,
		"ledger":          res.Ledger,
	})
}

// Verify reports whether a wallet has a score record on the ledger.
// GET /api/v1/verify/:address
func (h *Handler) Verify(c *gin.Context) {
	address := c.Param("address")

	v, err := h.service.VerifyOnChain(c.Request.Context(), address)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"verified":         v.Verified,
		"hasOnChainScores": v.Verified,
		"walletAddress":    address,
		"scores":           v.Record,
		"strategy":         v.Strategy,
	})
}

// History lists drafts and submissions recorded for a wallet.
// GET /api/v1/history/:address?limit=&cursor=
func (h *Handler) History(c *gin.Context) {
	address := c.Param("address")

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid_request",
				"message": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	page, err := h.service.History(c.Request.Context(), address, c.Query("cursor"), limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"walletAddress": address,
		"entries":       page.Entries,
		"count":         len(page.Entries),
		"nextCursor":    page.NextCursor,
		"hasMore":       page.HasMore,
	})
}

func bindError(c *gin.Context, err error) {
	fields := validation.FieldErrors(err)
	code := "invalid_request"
	for _, f := range fields {
		if f.Field == "walletAddress" {
			code = "invalid_address"
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   code,
		"message": fields.Error(),
		"details": fields,
	})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	var (
		serr *horizon.SubmitError
		herr *horizon.Error
		rerr *soroban.Error
	)
	if errors.As(err, &serr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   serr.Error(),
			"resultCodes": gin.H{
				"transaction": serr.Transaction,
				"operations":  serr.Operations,
			},
		})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := err.Error()
	switch {
	case errors.Is(err, stellar.ErrInvalidAddress):
		status = http.StatusBadRequest
		code = "invalid_address"
	case errors.Is(err, ErrInvalidScore), errors.Is(err, behavior.ErrUnknownUserType), errors.Is(err, stellar.ErrInvalidEnvelope):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, pagination.ErrInvalidCursor):
		status = http.StatusBadRequest
		code = "invalid_cursor"
	case errors.Is(err, ErrNetworkMismatch):
		status = http.StatusBadRequest
		code = "network_mismatch"
	case errors.Is(err, horizon.ErrAccountNotFound):
		status = http.StatusNotFound
		code = "account_not_found"
		message = "Account not found on the network; fund it before saving scores"
	case errors.As(err, &herr), errors.As(err, &rerr), errors.Is(err, soroban.ErrSimulationFailed):
		status = http.StatusBadGateway
		code = "upstream_unavailable"
	default:
		logging.L(c.Request.Context()).Error("persistence request failed", "error", err)
		message = "internal error"
	}
	c.JSON(status, gin.H{"success": false, "error": code, "message": message})
}
