package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/internal/adapter"
	"github.com/TonyStef/Dimini/backend/internal/builder"
	"github.com/TonyStef/Dimini/backend/internal/graph"
	"github.com/TonyStef/Dimini/backend/internal/insights"
	"github.com/TonyStef/Dimini/backend/internal/linker"
	"github.com/TonyStef/Dimini/backend/internal/metrics"
	"github.com/TonyStef/Dimini/backend/internal/realtime"
	"github.com/TonyStef/Dimini/backend/internal/session"
	"github.com/TonyStef/Dimini/backend/pkg/config"
	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph engine...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify Neo4j connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity",
			zap.Error(apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)))
	}

	// Realtime broadcasting over Redis pub/sub
	broadcaster, err := realtime.NewRedisBroadcaster(cfg.RedisAddr, cfg.RedisChannelPrefix)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer broadcaster.Close()

	// Wire the pipeline and services
	repo := graph.NewRepository(driver, cfg.EmbeddingDimension)
	extractor := adapter.NewExtractor(cfg.LiteLLMURL, cfg.APIKey, cfg.ExtractionModel)
	embedder := adapter.NewEmbedder(cfg.LiteLLMURL, cfg.APIKey, cfg.EmbeddingModel)
	summarizer := adapter.NewSummarizer(cfg.LiteLLMURL, cfg.APIKey, cfg.ExtractionModel)
	lnk := linker.New(cfg.SimilarityThreshold)

	pipeline := builder.New(extractor, embedder, repo, lnk, broadcaster)
	scheduler := metrics.NewScheduler(repo, metrics.Options{
		PageRankInterval:    cfg.PageRankInterval,
		BetweennessInterval: cfg.BetweennessInterval,
	})
	defer scheduler.StopAll()

	sessions := session.NewService(repo, pipeline, scheduler, broadcaster)
	insightSvc := insights.NewService(repo, summarizer, cfg.PageRankInterval, cfg.BetweennessInterval)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Start a session
		api.POST("/sessions/start", func(c *gin.Context) {
			var req struct {
				PatientID   string `json:"patient_id" binding:"required"`
				TherapistID string `json:"therapist_id" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			created, err := sessions.Start(c.Request.Context(), req.PatientID, req.TherapistID)
			if err != nil {
				log.Error("Failed to start session", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
				return
			}
			c.JSON(http.StatusCreated, created)
		})

		// Get session metadata
		api.GET("/sessions/:id", func(c *gin.Context) {
			record, err := sessions.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, record)
		})

		// Ingest a transcript fragment
		api.POST("/sessions/:id/transcript", func(c *gin.Context) {
			var req struct {
				Text string `json:"text" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			result, err := sessions.ProcessTranscript(c.Request.Context(), c.Param("id"), req.Text)
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// End a session
		api.POST("/sessions/:id/end", func(c *gin.Context) {
			record, err := sessions.End(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, record)
		})

		// Cancel a session
		api.POST("/sessions/:id/cancel", func(c *gin.Context) {
			record, err := sessions.Cancel(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, record)
		})

		// Add a clinical note
		api.POST("/sessions/:id/notes", func(c *gin.Context) {
			var req struct {
				Category string `json:"category" binding:"required"`
				Content  string `json:"content" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			if err := sessions.AddNote(c.Request.Context(), c.Param("id"), req.Category, req.Content); err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
		})

		// Flag a clinical concern
		api.POST("/sessions/:id/concerns", func(c *gin.Context) {
			var req struct {
				ConcernType string `json:"concern_type" binding:"required"`
				Severity    string `json:"severity" binding:"required"`
				Description string `json:"description"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			if err := sessions.FlagConcern(c.Request.Context(), c.Param("id"), req.ConcernType, req.Severity, req.Description); err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
		})

		// Mark a progress milestone
		api.POST("/sessions/:id/progress", func(c *gin.Context) {
			var req struct {
				ProgressType string `json:"progress_type" binding:"required"`
				Description  string `json:"description"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			if err := sessions.MarkProgress(c.Request.Context(), c.Param("id"), req.ProgressType, req.Description); err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
		})

		// Full session graph
		api.GET("/sessions/:id/graph", func(c *gin.Context) {
			ctx := c.Request.Context()
			sessionID := c.Param("id")

			entities, err := repo.GetSessionEntities(ctx, sessionID)
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			edges, err := repo.GetSessionEdges(ctx, sessionID)
			if err != nil {
				respondSessionError(c, log, err)
				return
			}

			nodes := make([]realtime.NodePayload, 0, len(entities))
			for _, entity := range entities {
				nodes = append(nodes, realtime.NodePayload{
					NodeID:         entity.NodeID,
					Label:          entity.Label,
					Type:           strings.ToLower(string(entity.NodeType)),
					MentionCount:   entity.MentionCount,
					WeightedDegree: entity.WeightedDegree,
					PageRank:       entity.PageRank,
					Betweenness:    entity.Betweenness,
				})
			}
			edgePayloads := make([]realtime.EdgePayload, 0, len(edges))
			for _, edge := range edges {
				edgePayloads = append(edgePayloads, realtime.EdgePayload{
					Source:     edge.SourceNodeID,
					Target:     edge.TargetNodeID,
					Similarity: edge.SimilarityScore,
				})
			}

			c.JSON(http.StatusOK, gin.H{"nodes": nodes, "edges": edgePayloads})
		})

		// Recompute weighted degree for every node in a session. Repair
		// path for graphs written before a crash mid-pipeline.
		api.POST("/sessions/:id/graph/recompute", func(c *gin.Context) {
			updated, err := repo.BatchUpdateWeightedDegree(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"updated": updated})
		})

		// Quick insights
		api.GET("/sessions/:id/insights", func(c *gin.Context) {
			quick, err := insightSvc.QuickInsights(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, quick)
		})

		// Session summary
		api.GET("/sessions/:id/summary", func(c *gin.Context) {
			summary, err := insightSvc.Summary(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"summary": summary})
		})

		// Metric freshness
		api.GET("/sessions/:id/freshness", func(c *gin.Context) {
			fresh, err := insightSvc.Freshness(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondSessionError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, fresh)
		})
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// respondSessionError maps service errors to HTTP statuses
func respondSessionError(c *gin.Context, log *zap.Logger, err error) {
	switch err.(type) {
	case *apperrors.ErrSessionNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case *apperrors.ErrSessionNotActive:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
