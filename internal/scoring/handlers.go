package scoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/stellar"
	"github.com/rivora/rivora/internal/validation"
)

// APIVersion is reported by the public endpoints.
const APIVersion = "1.0.0"

// analyzedMetrics names the sub-scores every calculation covers.
var analyzedMetrics = []string{
	"Wallet Age",
	"Transaction Frequency",
	"Secure Swap Usage",
	"Token Trustworthiness",
	"Token Diversity",
	"Portfolio Concentration",
	"Token Age Average",
	"Volatility Exposure",
	"Gas Efficiency",
	"User Behavior Classification",
}

// StatusInfo describes the deployment for GET /v1/status.
type StatusInfo struct {
	Version         string
	Network         string
	PersistenceMode string
}

// Handler provides HTTP endpoints for scoring
type Handler struct {
	service *Service
	status  StatusInfo
}

// NewHandler creates a new scoring handler
func NewHandler(service *Service, status StatusInfo) *Handler {
	if status.Version == "" {
		status.Version = APIVersion
	}
	return &Handler{service: service, status: status}
}

// RegisterRoutes sets up scoring endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/calculate-scores", h.CalculateScores)
	r.POST("/v1/batch-scores", h.BatchScores)
	r.GET("/v1/status", h.Status)
	r.GET("/v1/score/:address", validation.AddressParamMiddleware(), h.GetScore)
}

// ScoreRequest is the body of POST /calculate-scores.
type ScoreRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required,stellar_address"`
}

// BatchRequest is the body of POST /v1/batch-scores. Addresses are
// validated per item.
type BatchRequest struct {
	WalletAddresses []string `json:"walletAddresses" binding:"required"`
}

// PublicScores is the score block of the public API.
type PublicScores struct {
	TrustRating float64 `json:"trustRating"`
	HealthScore float64 `json:"healthScore"`
	UserType    string  `json:"userType"`
	Timestamp   string  `json:"timestamp"`
}

// BatchResult is one entry of a batch response.
type BatchResult struct {
	WalletAddress string        `json:"walletAddress"`
	Scores        *PublicScores `json:"scores,omitempty"`
	Error         string        `json:"error,omitempty"`
}

func publicScores(r *Result) *PublicScores {
	return &PublicScores{
		TrustRating: r.Scores.Risk,
		HealthScore: r.Scores.Health,
		UserType:    string(r.UserType),
		Timestamp:   r.ComputedAt.Format(time.RFC3339),
	}
}

// CalculateScores runs the full pipeline for one wallet.
// POST /api/calculate-scores
func (h *Handler) CalculateScores(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fields := validation.FieldErrors(err)
		code := "invalid_request"
		if len(fields) > 0 && fields[0].Field == "walletAddress" {
			code = "invalid_address"
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   code,
			"message": fields.Error(),
		})
		return
	}

	res, err := h.service.ScoreAccount(c.Request.Context(), validation.SanitizeAddress(req.WalletAddress))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"walletAddress":   res.Address,
		"deFiRiskScore":   res.Scores.Risk,
		"deFiHealthScore": res.Scores.Health,
		"userType":        res.UserType,
		"userTypeScore":   res.UserTypeScore(),
		"method":          res.Scores.Method,
		"metadata": gin.H{
			"dataQuality":     res.DataQuality,
			"analyzedMetrics": analyzedMetrics,
			"timestamp":       res.ComputedAt.Format(time.RFC3339),
		},
		"analysis": gin.H{
			"transactionFrequency":   res.Components.TxFrequency,
			"secureSwapUsage":        res.Components.SecureUsage,
			"portfolioDiversity":     res.Components.Diversity / 100,
			"portfolioConcentration": res.Components.Concentration / 100,
			"portfolioVolatility":    res.Components.Volatility / 100,
			"gasEfficiency":          res.Components.GasEfficiency / 100,
			"features":               res.Features,
			"behavior":               res.Profile,
		},
	})
}

// GetScore returns the public score view of one wallet.
// GET /api/v1/score/:address
func (h *Handler) GetScore(c *gin.Context) {
	address := c.Param("address")

	res, err := h.service.ScoreAccount(c.Request.Context(), address)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"walletAddress": address,
		"scores":        publicScores(res),
		"metadata": gin.H{
			"dataQuality": res.DataQuality,
			"version":     h.status.Version,
			"method":      res.Scores.Method,
		},
	})
}

// BatchScores scores up to validation.MaxBatchSize wallets.
// POST /api/v1/batch-scores
func (h *Handler) BatchScores(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.WalletAddresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_request",
			"message": "Request body must contain a non-empty 'walletAddresses' array",
		})
		return
	}
	if len(req.WalletAddresses) > validation.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "too_many_addresses",
			"message": "Maximum 50 addresses per batch request",
		})
		return
	}

	items := h.service.ScoreBatch(c.Request.Context(), req.WalletAddresses)
	results := make([]BatchResult, len(items))
	var ok int
	for i, it := range items {
		results[i].WalletAddress = it.Address
		switch {
		case it.Err == nil:
			results[i].Scores = publicScores(it.Result)
			ok++
		case errors.Is(it.Err, validation.ErrInvalidAddress):
			results[i].Error = "Invalid wallet address format"
		default:
			logging.L(c.Request.Context()).Warn("batch item failed", "wallet", it.Address, "error", it.Err)
			results[i].Error = "Failed to calculate scores"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": results,
		"metadata": gin.H{
			"total":      len(items),
			"successful": ok,
			"failed":     len(items) - ok,
		},
	})
}

// Status reports the deployment and model state.
// GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	state := h.service.Orchestrator().ModelState()
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"service":     "rivora",
		"version":     h.status.Version,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"network":     h.status.Network,
		"persistence": h.status.PersistenceMode,
		"model":       state.String(),
		"services": gin.H{
			"scoring":    "operational",
			"blockchain": "operational",
			"api":        "operational",
		},
	})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	var herr *horizon.Error
	status := http.StatusInternalServerError
	code := "internal_error"
	message := err.Error()
	switch {
	case errors.Is(err, validation.ErrInvalidAddress), errors.Is(err, stellar.ErrInvalidAddress):
		status = http.StatusBadRequest
		code = "invalid_address"
	case errors.As(err, &herr):
		status = http.StatusBadGateway
		code = "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "timeout"
	default:
		logging.L(c.Request.Context()).Error("score calculation failed", "error", err)
		message = "Internal server error during score calculation"
	}
	c.JSON(status, gin.H{"success": false, "error": code, "message": message})
}
