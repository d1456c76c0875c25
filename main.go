package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"chatbridge/config"
	"chatbridge/internal/adapters/objectstore"
	"chatbridge/internal/adapters/rabbitmq"
	"chatbridge/internal/db"
	"chatbridge/internal/delivery"
	"chatbridge/internal/handlers"
	"chatbridge/internal/realtime"
	"chatbridge/internal/services"
	"chatbridge/pkg/httputil"
	"chatbridge/pkg/logger"
)

func main() {
	// Level and format are only known after the config is read; start with defaults.
	logger.InitLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.NodeEnv).Msg("Configuration loaded successfully")

	ctx := context.Background()

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := db.Open(openCtx, db.Options{
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		Driver:        cfg.DatabaseDriver,
		DSN:           cfg.DatabaseURL,
	})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if cfg.UseMongo() {
		log.Info().Str("database", cfg.MongoDatabase).Msg("Using MongoDB gateway")
	} else {
		log.Info().Str("driver", cfg.DatabaseDriver).Msg("Using SQL gateway")
	}

	var channels []delivery.Channel
	var publisher *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		publisher, err = rabbitmq.Dial(rabbitmq.Config{
			URL:            cfg.RabbitURL,
			Queue:          cfg.RabbitQueue,
			Prefix:         cfg.RabbitQueuePrefix,
			SpecificEvents: cfg.RabbitSpecificEvents,
		})
		if err != nil {
			log.Error().Err(err).Msg("Could not connect to RabbitMQ, events will not be published there")
		} else {
			channels = append(channels, delivery.NewRabbitChannel(publisher))
		}
	}
	if cfg.EventsWebhookURL != "" {
		channels = append(channels, delivery.NewWebhookChannel(httputil.NewDefaultRestyClient(10*time.Second), cfg.EventsWebhookURL))
	}
	forwarder := delivery.NewManager(delivery.Options{}, channels...)
	forwarder.Start()

	hub := realtime.NewHub()

	presence, err := services.NewPresenceService(store, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize PresenceService")
	}
	users, err := services.NewUserDirectory(store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize UserDirectory")
	}
	rooms, err := services.NewRoomService(store, presence, users, hub, cfg.AppDomain)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RoomService")
	}
	messages, err := services.NewMessageService(store, hub, forwarder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MessageService")
	}
	wati, err := services.NewWatiService(store, hub, forwarder, cfg.WatiWebhookSecret, cfg.WatiDedupeWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize WatiService")
	}
	contacts, err := services.NewContactService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ContactService")
	}
	responses, err := services.NewResponseService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ResponseService")
	}
	settings, err := services.NewSettingsService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SettingsService")
	}
	upload, err := services.NewUploadService(objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.BucketName,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		PublicURL: cfg.CDNURL,
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize UploadService")
	}
	log.Info().Msg("Services initialized successfully")

	httpOpts := handlers.Options{AllowedOrigins: cfg.AllowedOrigins, Development: cfg.Development()}

	socket, err := realtime.NewServer(hub, rooms, messages, realtime.Options{
		PingInterval: cfg.PingInterval,
		PingTimeout:  cfg.PingTimeout,
		CheckOrigin:  httpOpts.CheckOrigin,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize socket server")
	}

	api, err := handlers.New(handlers.Deps{
		Rooms:     rooms,
		Presence:  presence,
		Messages:  messages,
		Wati:      wati,
		Contacts:  contacts,
		Responses: responses,
		Settings:  settings,
		Users:     users,
		Upload:    upload,
		Delivery:  forwarder,
		Socket:    socket,
	}, httpOpts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize handlers")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	hub.Shutdown()
	if err := socket.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Socket sessions still cleaning up")
	}
	forwarder.Stop(shutdownCtx)
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("Server exited")
}
