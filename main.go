package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/config"
	"github.com/ekaya-inc/obra-engine/pkg/database"
	"github.com/ekaya-inc/obra-engine/pkg/extraction"
	"github.com/ekaya-inc/obra-engine/pkg/formula"
	"github.com/ekaya-inc/obra-engine/pkg/handlers"
	"github.com/ekaya-inc/obra-engine/pkg/llm"
	"github.com/ekaya-inc/obra-engine/pkg/logging"
	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/mcp"
	"github.com/ekaya-inc/obra-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/obra-engine/pkg/repositories"
	"github.com/ekaya-inc/obra-engine/pkg/services"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("storage_root", cfg.Storage.Root),
		zap.String("extraction_provider", cfg.Extraction.Provider),
		zap.Bool("extraction_enabled", cfg.Extraction.Enabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := migrate(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	blobs, err := storage.NewLocalStore(cfg.Storage.Root, cfg.BaseURL, []byte(cfg.Storage.SigningKey))
	if err != nil {
		logger.Fatal("Failed to open file storage", zap.Error(err))
	}

	caches := cache.NewManager(cache.Config{
		SignedURLTTL:      cfg.Cache.SignedURLTTL,
		BlobTTL:           cfg.Cache.BlobTTL,
		TreeTTL:           cfg.Cache.TreeTTL,
		LinksTTL:          cfg.Cache.LinksTTL,
		RateLimitCooldown: cfg.Cache.RateLimitCooldown,
		MaxBlobs:          cfg.Cache.MaxBlobs,
	}, logger)
	caches.StartCleanup(ctx, cfg.Cache.CleanupInterval)
	defer caches.DisposeAll()

	templates, err := config.LoadTablaTemplates(cfg.TemplatesPath)
	if err != nil {
		logger.Fatal("Failed to load tabla templates", zap.Error(err))
	}

	extractor, err := newExtractor(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to configure extraction", zap.Error(err))
	}

	// Repositories
	tablaRepo := repositories.NewTablaRepository()
	rowRepo := repositories.NewRowRepository()
	linkRepo := repositories.NewExtractionLinkRepository()
	documentRepo := repositories.NewDocumentRepository()

	// Services
	compiler := formula.NewCompiler()
	materializer := materialize.New(compiler, logger)
	tablaService := services.NewTablaService(tablaRepo, linkRepo, templates, compiler, caches, logger)
	rowService := services.NewRowService(tablaRepo, rowRepo, materializer, caches, logger)
	linkService := services.NewExtractionLinkService(linkRepo, tablaRepo, caches, logger)
	documentService := services.NewDocumentService(documentRepo, tablaRepo, rowService, linkService, blobs, materializer, caches, logger)
	importService := services.NewImportService(documentService, linkService, tablaRepo, rowService, extractor, blobs, caches, cfg.Import.Concurrency, logger)
	curveService := services.NewCurveService(tablaService, rowService, materializer, logger)
	fileService := services.NewFileAccessService(blobs, caches, cfg.Storage.URLTTL, logger)

	mux := http.NewServeMux()
	ownerMiddleware := handlers.OwnerMiddleware(database.WithOwnerContext(db, logger))

	// Register handlers
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewTablaHandler(tablaService, logger).RegisterRoutes(mux, ownerMiddleware)
	handlers.NewRowHandler(tablaService, rowService, logger).RegisterRoutes(mux, ownerMiddleware)
	handlers.NewLinkHandler(linkService, logger).RegisterRoutes(mux, ownerMiddleware)
	handlers.NewDocumentHandler(documentService, importService, cfg.Storage.MaxUploadMB<<20, logger).RegisterRoutes(mux, ownerMiddleware)
	handlers.NewCurveHandler(tablaService, curveService, logger).RegisterRoutes(mux, ownerMiddleware)
	handlers.NewFileHandler(fileService, logger).RegisterRoutes(mux, ownerMiddleware)
	handlers.NewCacheHandler(caches, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mcpServer := mcp.NewServer("obra-engine", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
	tools.RegisterObraTools(mcpServer.MCP(), &tools.ToolDeps{
		Scopes: database.NewOwnerScopeProvider(db),
		Tablas: tablaService,
		Rows:   rowService,
		Links:  linkService,
		Curves: curveService,
		Logger: logger,
	})
	mux.Handle("/mcp", mcpServer.NewStreamableHTTPServer())

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting obra-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// migrate applies the embedded migrations over a short-lived database/sql
// connection, which is what golang-migrate's postgres driver needs.
func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, logger)
}

// newExtractor builds the document import pipeline. Spreadsheets are always
// supported; PDFs and images need a configured model.
func newExtractor(cfg *config.Config, logger *zap.Logger) (extraction.Extractor, error) {
	if !cfg.Extraction.Enabled() {
		logger.Warn("No extraction model configured; only spreadsheets can be imported")
		return extraction.NewPipeline(nil, nil, nil, logger), nil
	}

	client, err := llm.NewChatClient(&llm.Config{
		Provider:  cfg.Extraction.Provider,
		Endpoint:  cfg.Extraction.Endpoint,
		Model:     cfg.Extraction.Model,
		APIKey:    cfg.Extraction.APIKey,
		MaxTokens: cfg.Extraction.MaxTokens,
	}, logger)
	if err != nil {
		return nil, err
	}

	ocr := extraction.NewOCR(cfg.Extraction.OCRLanguages)
	return extraction.NewPipeline(
		extraction.NewPDFReader(cfg.Extraction.MaxPages, ocr),
		ocr,
		extraction.NewLLMRowExtractor(client, cfg.Extraction.MaxTextChars, logger),
		logger,
	), nil
}
