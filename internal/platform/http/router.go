package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/autoall/lacedore-verifier/internal/business/verify"
	"github.com/autoall/lacedore-verifier/internal/repository"
	"github.com/autoall/lacedore-verifier/pkg/model"
)

// Router wires HTTP handlers.
type Router struct {
	verifier *verify.Verifier
	service  *verify.Service
	runs     *repository.RunRepository
	settings *repository.SettingsRepository
	origins  string
}

func NewRouter(verifier *verify.Verifier, service *verify.Service, runs *repository.RunRepository, settings *repository.SettingsRepository, allowedOrigins string) *gin.Engine {
	r := &Router{
		verifier: verifier,
		service:  service,
		runs:     runs,
		settings: settings,
		origins:  allowedOrigins,
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), r.corsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/status", r.getStatus)
		api.GET("/quota", r.getQuota)
		api.POST("/verify", r.verifySingle)
		api.POST("/verify/batch", r.startBatch)
		api.GET("/runs", r.listRuns)
		api.GET("/runs/:id", r.getRun)
		api.POST("/runs/:id/cancel", r.cancelRun)
		api.POST("/redeem", r.redeem)
		api.POST("/cancel", r.cancelVerification)
	}

	return router
}

func (r *Router) corsMiddleware() gin.HandlerFunc {
	origins := strings.Split(r.origins, ",")
	trimmed := make([]string, 0, len(origins))
	for _, o := range origins {
		if t := strings.TrimSpace(o); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := "*"
		for _, o := range trimmed {
			if o == "*" || o == origin {
				allowed = origin
				break
			}
		}
		c.Header("Access-Control-Allow-Origin", allowed)
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *Router) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.verifier.Probe(c.Request.Context()))
}

func (r *Router) getQuota(c *gin.Context) {
	// Prefer the persisted record so the number survives restarts.
	if raw, err := r.settings.Get(c.Request.Context(), "lacedore_quota"); err == nil {
		var rec model.QuotaRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			c.JSON(http.StatusOK, rec)
			return
		}
	}
	c.JSON(http.StatusOK, r.verifier.Quota())
}

type verifySingleReq struct {
	VerificationID string `json:"verificationId" binding:"required"`
}

func (r *Router) verifySingle(c *gin.Context) {
	var req verifySingleReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	result := r.verifier.VerifySingle(c.Request.Context(), req.VerificationID, nil)
	c.JSON(http.StatusOK, result)
}

type startBatchReq struct {
	VerificationIDs []string `json:"verificationIds"`
	Polled          bool     `json:"polled"`
}

func (r *Router) startBatch(c *gin.Context) {
	var req startBatchReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	runID, err := r.service.Start(c.Request.Context(), req.VerificationIDs, req.Polled)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runId":   runID,
		"message": "Batch verification started. Check status with GET /api/runs/" + runID,
	})
}

func (r *Router) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := r.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

func (r *Router) getRun(c *gin.Context) {
	run, err := r.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (r *Router) cancelRun(c *gin.Context) {
	runID := c.Param("id")
	if !r.service.CancelRun(runID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running job for run " + runID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "message": "cancellation requested"})
}

type redeemReq struct {
	Code string `json:"code" binding:"required"`
}

func (r *Router) redeem(c *gin.Context) {
	var req redeemReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	c.JSON(http.StatusOK, r.verifier.RedeemCode(c.Request.Context(), req.Code))
}

type cancelReq struct {
	VerificationID string `json:"verificationId" binding:"required"`
}

func (r *Router) cancelVerification(c *gin.Context) {
	var req cancelReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	c.JSON(http.StatusOK, r.verifier.CancelVerification(c.Request.Context(), req.VerificationID))
}
