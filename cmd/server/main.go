package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go-social/internal/cache"
	"go-social/internal/chat"
	"go-social/internal/config"
	"go-social/internal/db"
	"go-social/internal/logging"
	"go-social/internal/metrics"
	"go-social/internal/middleware"
	"go-social/internal/notification"
	"go-social/internal/post"
	"go-social/internal/response"
	"go-social/internal/user"
)

var (
	addr     string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "Social backend: REST API and realtime gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func models() []any {
	var all []any
	all = append(all, user.Models()...)
	all = append(all, post.Models()...)
	all = append(all, notification.Models()...)
	all = append(all, chat.Models()...)
	return all
}

func openDatabase(ctx context.Context, cfg *config.Config) (*db.Database, error) {
	database, err := db.NewDatabase(ctx, db.Options{
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(models()...); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("migration failed")
		return err
	}
	defer database.Close()
	log.Info().Msg("database schema up to date")
	return nil
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 1. Platform: database and cache
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer database.Close()
	log.Info().Msg("database ready")

	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer redisCache.Close()
	log.Info().Msg("connected to redis")

	// 2. Features
	hub, router := newApp(cfg, database, redisCache)

	// 3. Run
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			return err
		}
		return nil
	case <-signalCtx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; stopping the
	// hub closes their send channels so the write pumps say goodbye.
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}

// newApp wires the services around one realtime hub. The hub is returned
// unstarted.
func newApp(cfg *config.Config, database *db.Database, redisCache *cache.RedisCache) (*chat.Hub, http.Handler) {
	invalidator := cache.NewInvalidator(redisCache)
	messageRate := cache.NewRateCounter(redisCache, cache.MessageRate, cfg.MessageRatePerMinute, time.Minute, time.Now)

	// Presence, typing and delivery
	hub := chat.NewHub(0)

	notificationService := notification.NewService(notification.NewRepository(database.Gorm), redisCache, invalidator, hub, notification.Config{
		DedupWindow: cfg.NotificationDedupWindow,
		ListTTL:     cfg.Cache.NotificationTTL,
		CounterTTL:  cfg.Cache.CounterTTL,
	})

	userService := user.NewService(user.NewRepository(database.Gorm), redisCache, invalidator, notificationService, hub, user.Config{
		JWTSecret:  cfg.JWTSecret,
		TokenTTL:   cfg.TokenTTL,
		ProfileTTL: cfg.Cache.ProfileTTL,
	})

	postService := post.NewService(post.NewRepository(database.Gorm), redisCache, invalidator, notificationService, userService, post.Config{
		PostTTL: cfg.Cache.PostTTL,
		FeedTTL: cfg.Cache.FeedTTL,
	})

	chatService := chat.NewService(chat.NewRepository(database.Gorm), redisCache, invalidator, hub, notificationService, userService, messageRate, chat.ServiceConfig{
		ConversationTTL: cfg.Cache.ConversationTTL,
		CounterTTL:      cfg.Cache.CounterTTL,
	})

	router := newRouter(routerDeps{
		database:      database,
		cache:         redisCache,
		auth:          middleware.NewAuthMiddleware(userService),
		users:         user.NewHandler(userService),
		posts:         post.NewHandler(postService),
		notifications: notification.NewHandler(notificationService),
		chat:          chat.NewHandler(hub, chatService, cfg.Realtime),
	})
	return hub, router
}

type routerDeps struct {
	database      *db.Database
	cache         *cache.RedisCache
	auth          *middleware.AuthMiddleware
	users         *user.Handler
	posts         *post.Handler
	notifications *notification.Handler
	chat          *chat.Handler
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimw.Recoverer)

	// Public routes
	r.Post("/register", d.users.Register)
	r.Post("/login", d.users.Login)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.database.Ping(ctx); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
		if err := d.cache.HealthCheck(ctx); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "unavailable", "cache unreachable")
			return
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Protected routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(d.auth.Handle)

		// WebSocket (realtime)
		r.Get("/ws", d.chat.ServeWs)

		r.Route("/api", func(r chi.Router) {
			r.Route("/users", func(r chi.Router) {
				r.Get("/search", d.users.SearchUsers)
				r.Get("/online", d.users.Online)
				r.Get("/me", d.users.Me)
				r.Put("/me", d.users.UpdateMe)
				r.Get("/{id}", d.users.Profile)
				r.Get("/{id}/followers", d.users.Followers)
				r.Get("/{id}/following", d.users.Following)
				r.Get("/{id}/posts", d.posts.UserPosts)
			})

			r.Post("/follows/{userId}", d.users.Follow)
			r.Delete("/follows/{userId}", d.users.Unfollow)

			r.Get("/feed", d.posts.Feed)
			r.Route("/posts", func(r chi.Router) {
				r.Post("/", d.posts.Create)
				r.Get("/{id}", d.posts.Get)
				r.Put("/{id}", d.posts.Update)
				r.Delete("/{id}", d.posts.Delete)
				r.Post("/{id}/like", d.posts.Like)
				r.Delete("/{id}/like", d.posts.Unlike)
				r.Post("/{id}/comments", d.posts.AddComment)
				r.Get("/{id}/comments", d.posts.Comments)
				r.Post("/{id}/reactions", d.posts.React)
				r.Delete("/{id}/reactions", d.posts.Unreact)
				r.Get("/{id}/reactions", d.posts.Reactions)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", d.chat.Send)
				r.Get("/conversations", d.chat.Conversations)
				r.Get("/unread-count", d.chat.UnreadCount)
				r.Post("/conversations/{userId}/read", d.chat.MarkConversationRead)
				r.Get("/{userId}", d.chat.GetChatHistory)
				r.Post("/{messageId}/read", d.chat.MarkRead)
				r.Delete("/{messageId}", d.chat.Delete)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", d.notifications.List)
				r.Get("/unread-count", d.notifications.UnreadCount)
				r.Post("/read-all", d.notifications.MarkAllRead)
				r.Delete("/", d.notifications.DeleteAll)
				r.Post("/{id}/read", d.notifications.MarkRead)
				r.Delete("/{id}", d.notifications.Delete)
			})
		})
	})

	return r
}
