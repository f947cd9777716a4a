package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"omoide-backend/internal/ai"
	"omoide-backend/internal/config"
	"omoide-backend/internal/handlers"
	"omoide-backend/internal/metrics"
	"omoide-backend/internal/middleware"
	"omoide-backend/internal/migrations"
	"omoide-backend/internal/repository"
	"omoide-backend/internal/services"
	"omoide-backend/internal/storage"
	"omoide-backend/internal/validation"
	"omoide-backend/internal/vision"
)

// Execute runs the omoide command line
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "omoide",
		Short:         "Omoide growth album backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path (YAML)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		setupLogger(cfg.Log)
		return cfg, nil
	}

	cmd.AddCommand(serveCmd(load), migrateCmd(load), tokenCmd(load))
	return cmd
}

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return Run(cfg)
		},
	}
}

func migrateCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return migrations.Up(cfg.Database.MigrateURL())
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return migrations.Down(cfg.Database.MigrateURL(), steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func tokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			token, err := services.NewAuthService(cfg.JWT.Secret).GenerateJWT(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID the token is issued for")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// Run starts the API server and blocks until SIGINT or SIGTERM
func Run(cfg *config.Config) error {
	if cfg.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}

	ctx := context.Background()

	// Connect to database
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	objects, err := storage.NewS3Store(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	// Initialize repositories
	recordRepo := repository.NewRecordRepository(db)
	storybookRepo := repository.NewStorybookRepository(db)
	shareLinkRepo := repository.NewShareLinkRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)

	// External models
	aiClient := ai.NewClient(cfg.OpenAI)
	if !aiClient.Configured() {
		log.Warn().Msg("OpenAI API key not configured, using dummy and template output")
	}
	detector := vision.NewGoogleDetector(cfg.Vision.APIKey, cfg.Vision.BaseURL, cfg.Vision.Timeout)

	m := metrics.New()

	notifier, err := services.NewNotifier(cfg.APNs, deviceRepo)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}

	// Initialize services
	authService := services.NewAuthService(cfg.JWT.Secret)
	usage := services.NewUsageRegistry(services.UsageLimits{
		Daily:          cfg.Usage.DailyLimit,
		Monthly:        cfg.Usage.MonthlyLimit,
		CostPerRequest: cfg.Usage.CostPerRequest,
	}, nil)
	analysisService := services.NewAnalysisService(detector, m)
	commentService := services.NewCommentService(services.NewCaptionGenerator(aiClient), usage, m)
	recordService := services.NewRecordService(recordRepo, shareLinkRepo, objects, commentService, cfg.Storybook.Location())
	narrationService := services.NewNarrationService(aiClient, objects, storybookRepo, m)
	shareService := services.NewShareService(shareLinkRepo, recordRepo, storybookRepo, cfg.Server.PublicURL, m)
	deviceService := services.NewDeviceService(deviceRepo)
	wsHub := services.NewWSHub()
	storybookService := services.NewStorybookService(services.StorybookDeps{
		Records:   recordRepo,
		Books:     storybookRepo,
		Shares:    shareLinkRepo,
		Text:      aiClient,
		Images:    aiClient,
		Narration: narrationService,
		Objects:   objects,
		Progress:  wsHub,
		Notifier:  notifier,
		Metrics:   m,
	}, cfg.Storybook)

	// Initialize handlers
	validator := validation.New()
	analysisHandler := handlers.NewAnalysisHandler(analysisService, validator)
	commentHandler := handlers.NewCommentHandler(commentService, recordService, validator)
	recordHandler := handlers.NewRecordHandler(recordService, validator)
	storybookHandler := handlers.NewStorybookHandler(storybookService, narrationService, validator)
	shareHandler := handlers.NewShareHandler(shareService, validator)
	usageHandler := handlers.NewUsageHandler(usage)
	deviceHandler := handlers.NewDeviceHandler(deviceService, validator)
	wsHandler := handlers.NewWebSocketHandler(wsHub, authService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", m.Handler())

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/shared-content/{shareId}", shareHandler.SharedContent)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))

			r.Post("/analyze-photos", analysisHandler.AnalyzePhotos)
			r.Post("/generate-comments", commentHandler.GenerateComments)

			r.Post("/photos/upload-url", recordHandler.UploadURL)
			r.Route("/records", func(r chi.Router) {
				r.Get("/", recordHandler.ListRecords)
				r.Post("/", recordHandler.CreateRecord)
				r.Get("/{id}", recordHandler.GetRecord)
				r.Delete("/{id}", recordHandler.DeleteRecord)
				r.Post("/{id}/generate-comments", commentHandler.GenerateRecordComments)
				r.Put("/{id}/comments/{commentId}", recordHandler.UpdateComment)
				r.Delete("/{id}/comments/{commentId}", recordHandler.DeleteComment)
			})

			r.Post("/generate-storybook", storybookHandler.GenerateStorybook)
			r.Get("/storybook-status", storybookHandler.StorybookStatus)
			r.Get("/storybooks", storybookHandler.ListStorybooks)
			r.Get("/storybooks/{id}", storybookHandler.GetStorybook)
			r.Delete("/storybooks/{id}", storybookHandler.DeleteStorybook)
			r.Post("/generate-audio", storybookHandler.GenerateAudio)

			r.Post("/create-share-link", shareHandler.CreateShareLink)
			r.Get("/manage-share-link", shareHandler.ListShareLinks)
			r.Put("/manage-share-link", shareHandler.UpdateShareLink)
			r.Delete("/manage-share-link", shareHandler.DeleteShareLink)

			r.Get("/usage", usageHandler.GetUsage)
			r.Delete("/usage", usageHandler.ResetUsage)

			r.Post("/devices", deviceHandler.RegisterDevice)
			r.Delete("/devices", deviceHandler.UnregisterDevice)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Storybook generation runs inside the request.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
	return nil
}

// setupLogger configures the global zerolog logger
func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
