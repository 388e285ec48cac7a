package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"backend-kartaview/internal/auth"
	"backend-kartaview/internal/config"
	"backend-kartaview/internal/ledger"
	"backend-kartaview/internal/remote"
	"backend-kartaview/internal/sequence"
	"backend-kartaview/internal/shared/geo"
	"backend-kartaview/internal/sidecar"
	"backend-kartaview/internal/stream"
	"backend-kartaview/internal/upload"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Catalog *sequence.Service
	Tracker *ledger.Tracker
	Uploads *upload.Orchestrator
}

// NewServer wires the full service. A ledger that fails to load is fatal:
// booting with an empty tracker would re-upload everything and then
// overwrite the real history on the next flush.
func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	tracker, err := ledger.NewTracker(context.Background(), ledgerStore(cfg, db))
	if err != nil {
		return nil, fmt.Errorf("load upload ledger: %w", err)
	}

	hub := stream.NewHub(redisClient)
	catalog := sequence.NewService(db, optionsFromConfig(cfg))
	client := remote.NewKartaView(cfg.KVBaseURL, cfg.KVAccessToken)

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      db,
		Redis:   redisClient,
		Stream:  hub,
		Catalog: catalog,
		Tracker: tracker,
		Uploads: upload.NewOrchestrator(catalog, tracker, client, hub, cfg.KVDryRun),
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.Cfg.OperatorName, s.Cfg.OperatorKeyHash))

	sequences := s.App.Group("/sequences")
	sequence.RegisterRoutes(sequences, s.Catalog, jwtMiddleware)
	sidecar.RegisterRoutes(sequences, s.Catalog, jwtMiddleware)

	upload.RegisterRoutes(s.App.Group("/uploads"), s.Uploads, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

func optionsFromConfig(cfg config.Config) sequence.Options {
	opts := sequence.Options{
		MaxTimeGap:      time.Duration(cfg.MaxTimeGapS * float64(time.Second)),
		MaxDistanceGapM: cfg.MaxDistanceGapM,
		MaxDop:          cfg.MaxDop,
		MinSpeedKmh:     cfg.MinSpeedKmh,
		CameraYawDeg:    cfg.CameraYawDeg,
	}
	if cfg.Geofence == "" {
		return opts
	}
	fence, err := geo.ParseFence(cfg.Geofence)
	if err != nil {
		log.Printf("ignoring bad geofence %q: %v", cfg.Geofence, err)
		return opts
	}
	opts.Fence = fence
	return opts
}

func ledgerStore(cfg config.Config, pool *pgxpool.Pool) ledger.Store {
	if cfg.LedgerBackend == "postgres" {
		if pool != nil {
			return ledger.NewPGStore(pool, cfg.LedgerName)
		}
		log.Printf("postgres ledger requested without a database, using file %s", cfg.LedgerPath)
	}
	return ledger.NewFileStore(cfg.LedgerPath)
}
