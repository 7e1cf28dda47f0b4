package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tokenscale/inference-gateway/src/audit"
	"github.com/tokenscale/inference-gateway/src/cache"
	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/events"
	"github.com/tokenscale/inference-gateway/src/gateway"
	"github.com/tokenscale/inference-gateway/src/handlers"
	"github.com/tokenscale/inference-gateway/src/middleware"
)

func init() {

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	} else {
		log.Println("✅ Loaded .env file")
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if os.Getenv("BACKEND_API_KEY") == "" {
		log.Println("⚠️  BACKEND_API_KEY not set, assuming the backend accepts unauthenticated requests")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("✓ Config loaded successfully")

	gw, err := gateway.NewGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}
	log.Printf("✓ Gateway ready (backend: %s)", cfg.Backend.Endpoint)

	if cfg.Cache.Enabled {
		genCache, err := cache.NewGenerationCache(&cfg.Cache)
		if err != nil {
			log.Printf("⚠️  Failed to connect result cache: %v, continuing without it", err)
		} else {
			defer genCache.Close()
			gw.SetResultCache(genCache)
			log.Printf("✓ Result cache connected (ttl: %s)", cfg.Cache.TTL)
		}
	} else {
		log.Println("ℹ️  Result cache disabled, every request reaches the backend")
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewPublisher(&cfg.Events)
		if err != nil {
			log.Printf("⚠️  Failed to connect event stream: %v, continuing without it", err)
		} else {
			defer publisher.Close()
			gw.SetEventSink(publisher)
			log.Printf("✓ Event stream connected (subject prefix: %s)", cfg.Events.SubjectPrefix)
		}
	}

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.Open(&cfg.Audit)
		if err != nil {
			log.Printf("⚠️  Failed to open audit log: %v, continuing without it", err)
			auditStore = nil
		} else {
			defer auditStore.Close()
			gw.SetAuditSink(auditStore)
			log.Printf("✓ Audit log open at %s", cfg.Audit.Path)
		}
	}

	if err := gw.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	log.Printf("✓ Scheduler running (batch size: %d, queue capacity: %d)", cfg.Scheduler.MaxBatchSize, cfg.Scheduler.QueueCapacity)
	if cfg.Speculative.Enabled {
		log.Printf("✓ Speculative decoding enabled (draft model: %s, lookahead: %d)", cfg.Speculative.DraftModel, cfg.Speculative.Lookahead)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	handler := handlers.NewGatewayHandler(gw)
	if auditStore != nil {
		handler.SetAuditSink(auditStore)
	}

	if cfg.Server.APIKey == "" {
		log.Println("ℹ️  GATEWAY_API_KEY not set, API endpoints are unauthenticated")
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handler.HandleHealth)

		protected := v1.Group("")
		protected.Use(middleware.APIKeyAuth(cfg.Server.APIKey))
		{
			protected.POST("/generate", handler.HandleGenerate)
			protected.GET("/stats", handler.HandleStats)
			protected.GET("/requests", handler.HandleRecentRequests)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Printf("🚀 Inference gateway running on port %s", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// In-flight requests resolved while the HTTP server drained; now stop
	// the scheduler before the deferred sink closes run.
	gw.Stop()

	log.Println("Server exited")
}

func corsMiddleware() gin.HandlerFunc {
	allowedOrigins := []string{"http://localhost:3000"}
	if env := os.Getenv("ALLOWED_ORIGINS"); env != "" {
		allowedOrigins = strings.Split(env, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Requests without an Origin header (curl, health probes) pass straight through.
		if origin == "" {
			c.Next()
			return
		}

		allowed := false
		for _, o := range allowedOrigins {
			if origin == o {
				allowed = true
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		if !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
