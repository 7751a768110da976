// Command roomfabric is the entrypoint that wires every component of the
// room fabric together: config, clock, the arrangement store, session
// registry, namespace manager, approval coordinator, room dispatcher,
// persistence/storage boundaries, connection admission, cleanup scheduler,
// and the HTTP/WebSocket accept layer. Grounded on the teacher's cmd-level
// wiring conventions (cobra root + serve subcommand, gin engine assembly,
// gin-contrib/cors), generalized from the teacher's SFU/hub construction to
// this fabric's arrange/registry/namespace/approval/room construction.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jamfabric/roomfabric/internal/v1/admission"
	"github.com/jamfabric/roomfabric/internal/v1/approval"
	"github.com/jamfabric/roomfabric/internal/v1/arrange"
	"github.com/jamfabric/roomfabric/internal/v1/auth"
	"github.com/jamfabric/roomfabric/internal/v1/bus"
	"github.com/jamfabric/roomfabric/internal/v1/cleanup"
	"github.com/jamfabric/roomfabric/internal/v1/clock"
	"github.com/jamfabric/roomfabric/internal/v1/config"
	"github.com/jamfabric/roomfabric/internal/v1/health"
	"github.com/jamfabric/roomfabric/internal/v1/logging"
	"github.com/jamfabric/roomfabric/internal/v1/middleware"
	"github.com/jamfabric/roomfabric/internal/v1/namespace"
	"github.com/jamfabric/roomfabric/internal/v1/observe"
	"github.com/jamfabric/roomfabric/internal/v1/ratelimit"
	"github.com/jamfabric/roomfabric/internal/v1/recovery"
	"github.com/jamfabric/roomfabric/internal/v1/registry"
	"github.com/jamfabric/roomfabric/internal/v1/repo"
	"github.com/jamfabric/roomfabric/internal/v1/room"
	"github.com/jamfabric/roomfabric/internal/v1/storage"
	"github.com/jamfabric/roomfabric/internal/v1/tracing"
	"github.com/jamfabric/roomfabric/internal/v1/transport"
	"github.com/jamfabric/roomfabric/internal/v1/validate"
)

// eventLimiterIdleAfter bounds how long an idle (identity, eventKind)
// token-bucket entry survives before the scheduler's regular tick sweeps it,
// matching ratelimit.EventLimiter's own doc comment ("swept every 5
// minutes").
const eventLimiterIdleAfter = 5 * time.Minute

// app bundles every wired component so both the serve and cleanup-force
// subcommands can reuse the same construction path.
type app struct {
	cfg        *config.Config
	ns         *namespace.Manager
	sessions   *registry.Registry
	disp       *room.Dispatcher
	scheduler  *cleanup.Scheduler
	pg         *repo.Postgres
	adminCount *roomCounts
}

// roomCounts satisfies observe.RoomCounts over the live namespace set.
type roomCounts struct{ ns *namespace.Manager }

func (r *roomCounts) ActiveRoomCount() int {
	count := 0
	for _, n := range r.ns.All() {
		if len(n.Path()) > 6 && n.Path()[:6] == "/room/" {
			count++
		}
	}
	return count
}

func (r *roomCounts) ActiveConnectionCount() int {
	total := 0
	for _, n := range r.ns.All() {
		total += n.ConnectionCount()
	}
	return total
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	c := clock.Real{}

	arrangeStore := arrange.NewStore(c)
	sessions := registry.New(c)
	ns := namespace.New(c)

	var disp *room.Dispatcher
	approvals := approval.New(c, func(s *approval.Session) {
		disp.OnApprovalTimeout(s)
	})

	var storageAdapter room.StorageAdapter
	if cfg.MinioEndpoint != "" {
		minio, err := storage.New(ctx, cfg.MinioEndpoint, os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), cfg.MinioBucket, cfg.NodeEnv == "production")
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		storageAdapter = storage.NewRoomAdapter(minio, time.Hour)
	}

	eventLimiter := ratelimit.NewEventLimiter(cfg)

	disp = room.New(room.Deps{
		Arrange:    arrangeStore,
		Sessions:   sessions,
		Namespaces: ns,
		Approvals:  approvals,
		Validator:  validate.NewRegistry(),
		Limiter:    eventLimiter,
		Recovery:   recovery.New(),
		Storage:    storageAdapter,
		Clock:      c,
		BatchConfig: admission.BatchConfig{
			Enabled:   cfg.BatchingEnabled,
			BatchSize: cfg.BatchSize,
			Delay:     cfg.BatchDelay,
		},
	})

	scheduler := cleanup.New(&sweepDisposer{ns: ns, sessions: sessions, approvals: approvals})
	// EventLimiter's own map of per-(identity,eventKind) buckets has no
	// ticker of its own; it rides the scheduler's regular 5-minute cadence
	// instead of spinning up a second background ticker for the same job.
	scheduler.RegisterRegularTick(func() { eventLimiter.Sweep(eventLimiterIdleAfter) })

	var pg *repo.Postgres
	if cfg.PostgresDSN != "" {
		p, err := repo.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg = p
	}

	return &app{
		cfg:        cfg,
		ns:         ns,
		sessions:   sessions,
		disp:       disp,
		scheduler:  scheduler,
		pg:         pg,
		adminCount: &roomCounts{ns: ns},
	}, nil
}

func (a *app) router(redisService *bus.Service) *gin.Engine {
	if a.cfg.NodeEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CorrelationID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     append([]string{a.cfg.CORSOrigin}, a.cfg.CORSDevelopmentOrigins...),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: a.cfg.CORSCredentials,
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := health.NewHandler(redisService)
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)

	admin := observe.NewHandler(a.scheduler, a.adminCount, a.cfg.AdminHMACSecret)
	admin.RegisterRoutes(r.Group("/admin"))

	var roomRepo repo.RoomRepository
	if a.pg != nil {
		roomRepo = a.pg
	} else {
		roomRepo = newInMemoryRoomRepo()
	}

	var mockValidator *auth.MockValidator
	var realValidator *auth.Validator
	var validator transport.TokenValidator
	if a.cfg.SkipAuth {
		mockValidator = &auth.MockValidator{}
		validator = transport.AdaptMockValidator(mockValidator)
	} else {
		v, err := auth.NewValidator(context.Background(), a.cfg.Auth0Domain, a.cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(context.Background(), "failed to construct auth validator", zap.Error(err))
		}
		realValidator = v
		validator = transport.AdaptValidator(v)
	}

	var redisClient *redis.Client
	if redisService != nil {
		redisClient = redisService.Client()
	}
	var rlValidator ratelimit.TokenValidator
	if mockValidator != nil {
		rlValidator = mockValidator
	} else {
		rlValidator = realValidator
	}
	rl, err := ratelimit.NewRateLimiter(a.cfg, redisClient, rlValidator)
	if err != nil {
		logging.Fatal(context.Background(), "failed to construct rate limiter", zap.Error(err))
	}
	r.Use(rl.GlobalMiddleware())

	ts := transport.NewServer(validator, roomRepo, a.disp, a.cfg.CORSDevelopmentOrigins, clock.Real{}).
		WithAdmission(admission.New(a.cfg))
	r.GET("/ws/room/:roomId", func(c *gin.Context) {
		if !rl.CheckWebSocket(c) {
			return
		}
		ts.ServeWs(c)
	})

	return r
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the room fabric HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ValidateEnv()
			if err != nil {
				return err
			}
			if err := logging.Initialize(cfg.NodeEnv != "production", logging.DefaultStreams(cfg.LogDir)); err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			if a.pg != nil {
				defer a.pg.Close()
			}

			var redisService *bus.Service
			if cfg.RedisEnabled {
				redisService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				// Wires every room namespace's EmitTo/EmitToExcept to republish
				// across processes, so running more than one replica still
				// delivers every event to every connection.
				a.ns.SetBus(redisService)
			}

			if otelAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); otelAddr != "" {
				tp, err := tracing.InitTracer(ctx, "roomfabric", otelAddr)
				if err != nil {
					logging.Warn(ctx, "failed to initialize tracer", zap.Error(err))
				} else {
					defer func() { _ = tp.Shutdown(ctx) }()
				}
			}

			a.scheduler.Start(ctx)
			defer a.scheduler.Stop()

			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: a.router(redisService),
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logging.Info(ctx, "room fabric listening", zap.String("port", cfg.Port))
			if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
				err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func newCleanupForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-force",
		Short: "run one aggressive cleanup sweep against a running fabric and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ValidateEnv()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			if a.pg != nil {
				defer a.pg.Close()
			}
			m := a.scheduler.RunSweep(ctx, true)
			fmt.Printf("swept %d namespaces, cleaned up %d (%d sessions), freed %d bytes\n",
				m.NamespacesChecked, m.NamespacesCleanedUp, m.SessionsCleanedUp, m.MemoryFreed)
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "roomfabric",
		Short: "the collaborative jam room fabric",
	}
	root.AddCommand(newServeCmd(), newCleanupForceCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
