package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/auth"
	"github.com/music-room-server/internal/resolver"
	"github.com/music-room-server/internal/room"
	"github.com/music-room-server/internal/spotify"
	"github.com/music-room-server/internal/vote"
	"github.com/music-room-server/internal/ws"
	"github.com/music-room-server/internal/youtube"
	"github.com/music-room-server/pkg/config"
	"github.com/music-room-server/pkg/database"
	"github.com/music-room-server/pkg/events"
	"github.com/music-room-server/pkg/jwt"
	"github.com/music-room-server/pkg/logger"
	"github.com/music-room-server/pkg/models"
	"github.com/music-room-server/pkg/redis"
)

var (
	app        = kingpin.New("music-room-server", "Shared listening room server")
	configPath = app.Flag("config", "Path to config file (environment only when empty)").Envar("CONFIG").String()
	verbose    = app.Flag("verbose", "Enable debug logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	mintCmd   = app.Command("mint-token", "Create a user if needed and print a token for it")
	mintEmail = mintCmd.Arg("email", "User email").Required().String()
	mintName  = mintCmd.Flag("name", "Display name").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	logCfg := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		logCfg.Level = "debug"
	}
	if *logfile != "" {
		logCfg.Output = "file"
		logCfg.File = *logfile
	}
	if err := logger.Init(logCfg); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	if command == mintCmd.FullCommand() {
		if err := mintToken(cfg, *mintEmail, *mintName); err != nil {
			zlog.Fatal().Err(err).Msg("failed to mint token")
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewMySQLDB(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	cache := redis.NewRoomCache(redisClient, cfg.Redis.RoomTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := ws.NewRegistry()
	broadcaster := ws.NewBroadcaster(registry, db, cache)

	var publisher events.Publisher
	consumeErr := make(chan error, 1)
	if cfg.Kafka.Enabled() {
		// Every instance must see every event, so each gets its own group.
		groupID := cfg.Kafka.GroupID + "-" + uuid.NewString()
		kafkaClient := events.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID)
		defer kafkaClient.Close()
		publisher = kafkaClient
		go func() {
			consumeErr <- kafkaClient.ConsumeEvents(ctx, broadcaster.HandleEvent)
		}()
		zlog.Info().Strs("brokers", cfg.Kafka.Brokers).Str("group", groupID).Msg("room events via kafka")
	} else {
		publisher = events.NewLoopback(broadcaster.HandleEvent)
		zlog.Info().Msg("no kafka brokers configured, room events stay in-process")
	}

	var spotifyLookup resolver.SpotifyLookup
	if cfg.Spotify.ClientID != "" {
		spotifyLookup = spotify.NewClient(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)
	} else {
		zlog.Warn().Msg("spotify credentials not set, spotify links will be rejected")
	}
	var videoLookup resolver.VideoLookup
	if cfg.YouTube.APIKey != "" {
		videoLookup = youtube.NewClient(cfg.YouTube.APIKey, "")
	} else {
		zlog.Warn().Msg("youtube api key not set, youtube links will be rejected")
	}

	tokens := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	secure := cfg.Server.Env == "production"

	roomService := room.NewService(db, cache, resolver.New(spotifyLookup, videoLookup), vote.NewReconciler(db), publisher)
	roomHandler := room.NewHandler(roomService)
	authHandler := auth.NewHandler(tokens, db, cfg.Auth.CookieName, secure)
	wsHandler := ws.NewHandler(registry, broadcaster, roomService, ws.Options{
		SendBuffer:      cfg.WebSocket.SendBuffer,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PongWait:        cfg.WebSocket.PongWait,
		PingInterval:    cfg.WebSocket.PingInterval,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, cfg.Server.AllowedOrigins)

	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
	} else {
		corsCfg.AllowOriginFunc = func(string) bool { return !secure }
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": registry.Len()})
	})

	v1 := router.Group("/api/v1")
	authHandler.RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(auth.Middleware(tokens, cfg.Auth.CookieName))
	{
		roomHandler.RegisterRoutes(protected)
		protected.GET("/ws", wsHandler.HandleWebSocket)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		zlog.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		return errors.Wrap(err, "server failed")
	case err := <-consumeErr:
		if ctx.Err() == nil {
			return errors.Wrap(err, "event consumer stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("failed to shut down server")
	}

	zlog.Info().Msg("server stopped")
	return nil
}

func mintToken(cfg *config.Config, email, name string) error {
	db, err := database.NewMySQLDB(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}

	if name == "" {
		name = email
	}
	user, err := db.EnsureUser(context.Background(), &models.User{
		ID:       uuid.New(),
		Email:    email,
		Name:     name,
		Provider: "local",
	})
	if err != nil {
		return err
	}

	token, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(user.ID.String())
	if err != nil {
		return err
	}
	fmt.Printf("participant: %s\ntoken: %s\n", user.ID, token)
	return nil
}
