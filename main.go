package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// App holds the collaborators the handlers need.
type App struct {
	catalog     Catalog
	products    *ProductService
	checkout    *CheckoutEngine
	users       UserStore
	sessions    *SessionManager
	idempotency IdempotencyStore
}

// NewRouter wires middleware, templates and every route onto a gin engine.
func NewRouter(app *App, cfg Config) (*gin.Engine, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if len(cfg.AllowedOrigins) == 0 {
		r.Use(cors.Default())
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", idempotencyHeader},
			AllowCredentials: true,
		}))
	}
	r.Use(app.sessions.LoadSession())
	r.SetHTMLTemplate(tmpl)
	r.MaxMultipartMemory = 8 << 20
	r.Static(uploadsURLPrefix, cfg.UploadDir)

	ShopRoutes(r, app)
	AuthRoutes(r, app)
	AdminProductRoutes(r, app)
	return r, nil
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to start telemetry: %v", err)
	}

	// Database
	db, err := InitDB(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	users := NewSQLUserStore(db)
	if err := ensureAdmin(ctx, users, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		log.Fatalf("❌ Failed to create admin: %v", err)
	}

	images, err := NewDiskImageStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("❌ Failed to prepare uploads: %v", err)
	}

	idempotency := NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	if cfg.RedisURL != "" {
		client, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		defer client.Close()
		idempotency = NewRedisIdempotencyStore(client, cfg.IdempotencyTTL)
		log.Println("✅ Idempotency keys stored in Redis")
	}

	catalog := NewSQLCatalog(db)
	app := &App{
		catalog:     catalog,
		products:    NewProductService(catalog, images),
		checkout:    NewCheckoutEngine(NewSQLStockStore(db), cfg.WhatsAppPhone),
		users:       users,
		sessions:    NewSessionManager(cfg.SessionSecret, cfg.SessionTTL, cfg.SessionSecure),
		idempotency: idempotency,
	}

	r, err := NewRouter(app, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to load templates: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("✅ Server running at http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Server shutdown: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Printf("⚠️ Telemetry shutdown: %v", err)
	}
}
