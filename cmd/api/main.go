package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iamasit07/geo-tracking/backend/internal/config"
	"github.com/iamasit07/geo-tracking/backend/internal/repository/postgres"
	"github.com/iamasit07/geo-tracking/backend/internal/repository/redis"
	"github.com/iamasit07/geo-tracking/backend/internal/repository/sqlite"
	"github.com/iamasit07/geo-tracking/backend/internal/service/broadcast"
	"github.com/iamasit07/geo-tracking/backend/internal/service/cleanup"
	"github.com/iamasit07/geo-tracking/backend/internal/service/tracker"
	transportHttp "github.com/iamasit07/geo-tracking/backend/internal/transport/http"
	"github.com/iamasit07/geo-tracking/backend/internal/transport/kafka"
	"github.com/iamasit07/geo-tracking/backend/internal/transport/mqtt"
	"github.com/iamasit07/geo-tracking/backend/internal/transport/websocket"
)

// store is what the tracker and the hub need from a backend.
type store interface {
	tracker.DeviceRepository
	tracker.TimelineRepository
	tracker.LocationRepository
	broadcast.PositionReader
}

type postgresStore struct {
	*postgres.DeviceRepo
	*postgres.TimelineRepo
	*postgres.LocationRepo
}

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 1. Storage
	var st store
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := sqlite.Open(context.Background(), cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		defer s.Close()
		st = s
		log.Printf("[DB] Using sqlite store at %s", cfg.SQLitePath)
	default:
		log.Println("Running database migrations...")
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		db, err := postgres.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetimeMin)
		if err != nil {
			log.Fatalf("Database unreachable: %v", err)
		}
		defer db.Close()
		st = postgresStore{
			DeviceRepo:   postgres.NewDeviceRepo(db),
			TimelineRepo: postgres.NewTimelineRepo(db),
			LocationRepo: postgres.NewLocationRepo(db),
		}
	}

	// 2. Optional Redis pointer cache
	var cache broadcast.PointerCache
	if client := redis.Connect(context.Background(), cfg.RedisURL, cfg.RedisPassword); client != nil {
		defer client.Close()
		cache = redis.NewPointerCache(client)
	}

	// 3. Services
	trk := tracker.NewTracker(st, st, st)
	connManager := websocket.NewConnectionManager()
	hub := broadcast.NewHub(st, cache, connManager)

	if sink := kafka.NewSink(cfg.KafkaBrokersList(), cfg.KafkaTopic); sink != nil {
		defer sink.Close()
		hub.AddSink(sink)
	}

	// 4. Background workers
	reaper := cleanup.NewWorker(cleanup.ConnectionRegistry(connManager), trk, hub, cfg.IdleThreshold(), cfg.IdleSweepInterval())
	reaper.Start()

	var bridge *mqtt.Bridge
	if cfg.MQTTEnabled {
		opts := mqtt.Options{
			BrokerURL:         cfg.MQTTBrokerURL,
			ClientID:          cfg.MQTTClientID,
			TopicLocation:     cfg.MQTTTopicLocation,
			TopicDeviceStatus: cfg.MQTTTopicDeviceStatus,
			TopicCommands:     cfg.MQTTTopicCommands,
			ConnectTimeout:    cfg.MQTTConnectTimeout,
			ReconnectBase:     cfg.MQTTReconnectBase,
			ReconnectMax:      cfg.MQTTReconnectMax,
			MaxAttempts:       cfg.MQTTMaxReconnectAttempts,
		}
		if cfg.MQTTAuthEnabled() {
			opts.Username = cfg.MQTTUsername
			opts.Password = cfg.MQTTPassword
		} else {
			log.Println("[MQTT] No broker credentials; connecting anonymously")
		}
		bridge = mqtt.NewBridge(opts, trk, hub)
		bridge.Start()
	} else {
		log.Println("[MQTT] Broker bridge disabled")
	}

	// 5. HTTP
	wsHandler := websocket.NewHandler(connManager, trk, hub, cfg.AllowedOriginsList())
	deviceHandler := transportHttp.NewDeviceHandler(hub, nil)
	health := &transportHttp.HealthHandler{Connections: connManager.Len}
	if bridge != nil {
		deviceHandler.Commands = bridge
		health.BrokerState = func() string { return string(bridge.State()) }
	}

	router := transportHttp.NewRouter(transportHttp.RouterConfig{
		AllowedOrigins: cfg.AllowedOriginsList(),
		Timelines:      transportHttp.NewTimelineHandler(trk),
		Devices:        deviceHandler,
		Health:         health,
		WebSocket:      wsHandler.HandleWebSocket,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Server is shutting down...")

	if bridge != nil {
		bridge.Stop()
	}
	reaper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}
