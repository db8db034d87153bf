package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/unishare/uploadsvc/internal/chunkstore"
	"github.com/unishare/uploadsvc/internal/config"
	"github.com/unishare/uploadsvc/internal/handlers"
	"github.com/unishare/uploadsvc/internal/ledger"
	"github.com/unishare/uploadsvc/internal/lock"
	"github.com/unishare/uploadsvc/internal/storage"
	"github.com/unishare/uploadsvc/internal/tracing"
	"github.com/unishare/uploadsvc/internal/upload"
)

func main() {
	log.Println("Starting UniShare upload service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Port: %s", cfg.ServiceName, cfg.ServicePort)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Initialize MySQL session store
	log.Println("Connecting to MySQL...")
	store, err := upload.NewMySQLStore(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}
	defer store.Close()
	log.Println("Session store initialized")

	// Named locks share the session store's connection pool
	locks := lock.NewMySQLManager(store.DB())

	// Initialize Redis client
	log.Println("Connecting to Redis...")
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis client initialized")

	reservations := ledger.NewRedisLedger(redisClient, cfg.ReservationTTL)
	sessionCache := upload.NewSessionCache(redisClient)

	// Wire storage backends
	defaultKind, err := storage.ParseKind(cfg.DefaultStorage)
	if err != nil {
		log.Fatalf("Invalid DEFAULT_STORAGE: %v", err)
	}

	backends := make(map[storage.Kind]storage.Backend)

	// Published local files stay at their staging path, so the backend is
	// rooted where merged files actually land.
	local, err := storage.NewLocalBackend(filepath.Join(cfg.DataDir, "uploads"))
	if err != nil {
		log.Fatalf("Failed to initialize local storage: %v", err)
	}
	backends[storage.KindLocal] = local

	if cfg.UseMinIO {
		log.Println("Connecting to MinIO...")
		objectStore, err := storage.NewObjectStoreBackend(
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
			cfg.MinIOMaxBytes,
		)
		if err != nil {
			log.Fatalf("Failed to initialize MinIO backend: %v", err)
		}
		backends[storage.KindObjectStore] = objectStore
		log.Println("MinIO backend initialized")
	}

	if cfg.UseGoogleDrive {
		log.Println("Connecting to Google Drive...")
		externalDrive, err := storage.NewExternalDriveBackend(
			context.Background(),
			cfg.GoogleDriveCredentials,
			cfg.GoogleDriveFolderID,
		)
		if err != nil {
			log.Fatalf("Failed to initialize Google Drive backend: %v", err)
		}
		backends[storage.KindExternalDrive] = externalDrive
		log.Println("Google Drive backend initialized")
	}

	if _, ok := backends[defaultKind]; !ok {
		log.Fatalf("Default storage %q is not enabled", defaultKind)
	}

	// Initialize the upload coordinator
	coordinator := upload.NewCoordinator(
		upload.Config{
			DataDir:           cfg.DataDir,
			DefaultBackend:    defaultKind,
			LockWait:          cfg.LockWait,
			SignedURLTTL:      cfg.SignedURLTTL,
			SmallFileHashSize: cfg.SmallFileHashSize,
		},
		store,
		chunkstore.New(cfg.DataDir),
		backends,
		reservations,
		locks,
		sessionCache,
	)

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(coordinator)
	downloadHandler := handlers.NewDownloadHandler(coordinator)

	// Setup HTTP router
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Upload session lifecycle with tracing
	router.Handle("/uploads",
		otelhttp.NewHandler(http.HandlerFunc(uploadHandler.Initialize), "POST /uploads")).Methods("POST")
	router.Handle("/uploads/{upload_id}/chunks/{index}",
		otelhttp.NewHandler(http.HandlerFunc(uploadHandler.SubmitChunk), "PUT /uploads/{upload_id}/chunks/{index}")).Methods("PUT")
	router.Handle("/uploads/{upload_id}",
		otelhttp.NewHandler(http.HandlerFunc(uploadHandler.Status), "GET /uploads/{upload_id}")).Methods("GET")
	router.Handle("/uploads/{upload_id}/resume",
		otelhttp.NewHandler(http.HandlerFunc(uploadHandler.Resume), "POST /uploads/{upload_id}/resume")).Methods("POST")
	router.Handle("/uploads/{upload_id}",
		otelhttp.NewHandler(http.HandlerFunc(uploadHandler.Cancel), "DELETE /uploads/{upload_id}")).Methods("DELETE")
	router.Handle("/uploads/{upload_id}/content",
		otelhttp.NewHandler(http.HandlerFunc(downloadHandler.Content), "GET /uploads/{upload_id}/content")).Methods("GET")
	router.Handle("/uploads/{upload_id}/url",
		otelhttp.NewHandler(http.HandlerFunc(downloadHandler.FileURL), "GET /uploads/{upload_id}/url")).Methods("GET")

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
