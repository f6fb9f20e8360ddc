package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/helios-labs/strategy-governor/internal/database"
	"github.com/helios-labs/strategy-governor/internal/store"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Deps are the read-only dependencies of the governance API. The API
// never writes; the orchestrator is the only writer in the process.
type Deps struct {
	Store store.StateStore
	DB    *database.PostgresDB
	Redis *database.RedisClient
}

// SetupRoutes registers the governance read API.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("strategy-governor"))

	router.GET("/health", healthCheck(deps))

	v1 := router.Group("/api/v1")
	{
		governance := v1.Group("/governance")
		{
			governance.GET("/snapshot", getSnapshot(deps))
			governance.GET("/state", getStateSummary(deps))
			governance.GET("/cycles/:id", getCycle(deps))
		}
	}
}

func healthCheck(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Services:  Services{Database: "not_configured", Redis: "not_configured"},
		}
		if deps.DB != nil {
			resp.Services.Database = "healthy"
			if err := deps.DB.HealthCheck(ctx); err != nil {
				resp.Services.Database = "unhealthy"
				resp.Status = "degraded"
			}
		}
		if deps.Redis != nil {
			resp.Services.Redis = "healthy"
			if err := deps.Redis.HealthCheck(ctx); err != nil {
				resp.Services.Redis = "unhealthy"
				resp.Status = "degraded"
			}
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}

// getSnapshot serves the override snapshot the execution layer merges
// over strategy base configs. The signature is recomputed on read;
// stored signatures are never trusted.
func getSnapshot(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := deps.Store.LoadSnapshot(c.Request.Context())
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no override snapshot committed yet"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot load failed"})
			return
		}
		snap.Sign()
		c.JSON(http.StatusOK, snap)
	}
}

func getStateSummary(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := deps.Store.LoadState(c.Request.Context())
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no governance state yet"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "state load failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"latestCycleId":          state.LatestCycleID,
			"latestCompletedCycleId": state.LatestCompletedCycleID,
			"pendingBatch":           state.PendingBatch != nil,
			"cycleCount":             len(state.Cycles),
			"dailyUsage":             state.DailyUsage,
		})
	}
}

func getCycle(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := deps.Store.LoadState(c.Request.Context())
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no governance state yet"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "state load failed"})
			return
		}
		cycle, ok := state.Cycles[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown cycle"})
			return
		}
		c.JSON(http.StatusOK, cycle)
	}
}
