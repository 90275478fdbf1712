package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/database"
	"github.com/jmylchreest/camstreamd/internal/discovery"
	"github.com/jmylchreest/camstreamd/internal/gst"
	internalhttp "github.com/jmylchreest/camstreamd/internal/http"
	"github.com/jmylchreest/camstreamd/internal/http/handlers"
	"github.com/jmylchreest/camstreamd/internal/mavlink"
	"github.com/jmylchreest/camstreamd/internal/repository"
	"github.com/jmylchreest/camstreamd/internal/rtsp"
	"github.com/jmylchreest/camstreamd/internal/scheduler"
	"github.com/jmylchreest/camstreamd/internal/service"
	"github.com/jmylchreest/camstreamd/internal/service/logs"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/util"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/jmylchreest/camstreamd/internal/version"
	"github.com/spf13/cobra"
)

// gstLaunchEnv overrides the gst-launch-1.0 location.
const gstLaunchEnv = "CAMSTREAMD_GST_LAUNCH"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming daemon",
	Long: `Start the RTSP media server, publish configured and discovered capture
devices, and serve the telemetry link and HTTP management API until
interrupted.

Startup order:
  1. streams listed under streams.static
  2. one stream per device when devices.auto_publish is set
  3. streams saved by a previous run when streams.persist is set

devices.rescan_schedule repeats step 2 to pick up hotplugged cameras.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	journal := logs.New(logs.DefaultCapacity)
	logger := newLogger(cfg.Logging, journal.Handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting camstreamd",
		slog.String("version", version.Version),
		slog.String("rtsp_address", cfg.RTSP.Address),
		slog.Int("rtsp_port", cfg.RTSP.Port),
	)

	gstLaunch, err := util.FindBinary(gst.LaunchBinary, cfg.RTSP.GstLaunchPath, gstLaunchEnv)
	if err != nil {
		return fmt.Errorf("locating %s: %w", gst.LaunchBinary, err)
	}

	media := rtsp.NewServer(rtsp.Config{
		UDPRTPPort:  cfg.RTSP.UDPRTPPort,
		UDPRTCPPort: cfg.RTSP.UDPRTCPPort,
		IdleTimeout: cfg.RTSP.IdleTimeout,
	}, rtsp.NewGstLauncher(gstLaunch, logger), logger)

	reader := v4l2.NewIoctlReader()
	devices := v4l2.NewEnumerator(cfg.Devices.Pattern, cfg.Devices.Blacklist)
	registry := stream.NewRegistry(devices, reader, media, logger).
		WithEndpoint(cfg.RTSP.Address, cfg.RTSP.Port)

	if err := media.Start(ctx); err != nil {
		return fmt.Errorf("starting media server: %w", err)
	}
	defer media.Close()

	var db *database.DB
	if cfg.Streams.Persist {
		db, err = openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	if cfg.Discovery.Enabled {
		publisher, err := newDiscoveryPublisher(cfg.Discovery, registry, logger)
		if err != nil {
			return err
		}
		registry.WithObserver(publisher)
		defer publisher.Close()
	}

	if err := publishStreams(ctx, cfg, registry, db, logger); err != nil {
		return err
	}

	if cfg.Devices.RescanSchedule != "" {
		sched := scheduler.New(logger)
		if err := scheduleRescan(sched, cfg.Devices.RescanSchedule, registry, logger); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	}

	var bridge *mavlink.Bridge
	errCh := make(chan error, 2)
	if cfg.MAVLink.Enabled {
		bridge = mavlink.NewBridge(registry, func() (mavlink.Link, error) {
			return mavlink.Dial(cfg.MAVLink, logger)
		}, mavlink.OptionsFromConfig(cfg.MAVLink), logger)

		if err := bridge.Connect(); err != nil {
			return err
		}
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("telemetry link: %w", err)
			}
		}()
	}

	if cfg.Server.Enabled {
		server := newHTTPServer(cfg.Server, logger, registry, media, journal, db, bridge)
		go func() {
			if err := server.ListenAndServe(ctx); err != nil {
				errCh <- fmt.Errorf("management API: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		return nil
	case err := <-errCh:
		logger.Error("shutting down", slog.String("error", err.Error()))
		return err
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*database.DB, error) {
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newDiscoveryPublisher advertises every stream the registry publishes.
func newDiscoveryPublisher(cfg config.DiscoveryConfig, registry *stream.Registry, logger *slog.Logger) (*discovery.Publisher, error) {
	announcer, err := discovery.NewZeroconfAnnouncer(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("advertising streams",
		slog.String("service", cfg.ServiceType),
		slog.String("domain", cfg.Domain),
	)
	return discovery.NewPublisher(announcer, registry.Port, logger), nil
}

// publishStreams brings up static, discovered and restored streams, then
// starts persisting runtime changes. db is nil when persistence is off.
func publishStreams(ctx context.Context, cfg *config.Config, registry *stream.Registry, db *database.DB, logger *slog.Logger) error {
	publishStatic(registry, cfg.Streams.Static, logger)

	if cfg.Devices.AutoPublish {
		added, err := registry.AutoPublish()
		if err != nil {
			logger.Warn("auto-publish failed", slog.String("error", err.Error()))
		} else {
			logger.Info("auto-published devices", slog.Int("streams", len(added)))
		}
	}

	if db == nil {
		return nil
	}

	persistence := service.NewPersistenceService(repository.NewStreamRecordRepository(db.DB)).
		WithLogger(logger)
	if _, err := persistence.Restore(ctx, registry); err != nil {
		return fmt.Errorf("restoring streams: %w", err)
	}
	registry.WithObserver(persistence)
	return nil
}

// scheduleRescan re-runs auto-publish on spec.
func scheduleRescan(sched *scheduler.Scheduler, spec string, registry *stream.Registry, logger *slog.Logger) error {
	if err := sched.Add("device_rescan", spec, rescanJob(registry, logger)); err != nil {
		return fmt.Errorf("devices.rescan_schedule: %w", err)
	}
	return nil
}

// rescanJob publishes devices attached after startup. Mounts already taken
// are left alone.
func rescanJob(registry *stream.Registry, logger *slog.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		added, err := registry.AutoPublish()
		for _, d := range added {
			logger.Info("published new device",
				slog.String("device", d.Device),
				slog.String("mount_path", d.MountPath),
			)
		}
		return err
	}
}

// publishStatic adds the configured streams. Entries that fail are logged
// and skipped so one unplugged camera does not stop the rest.
func publishStatic(registry *stream.Registry, streams []config.StaticStream, logger *slog.Logger) int {
	published := 0
	for _, s := range streams {
		err := addStatic(registry, s)
		if err != nil {
			logger.Warn("skipping static stream",
				slog.String("device", s.Device),
				slog.String("mount_path", s.MountPath),
				slog.String("error", err.Error()),
			)
			continue
		}
		published++
	}
	return published
}

func addStatic(registry *stream.Registry, s config.StaticStream) error {
	format, err := v4l2.ParsePixelFormat(s.Format)
	if err != nil {
		return err
	}
	_, err = registry.Add(s.Device, format, s.MountPath, s.Width, s.Height)
	return err
}

func newHTTPServer(
	cfg config.ServerConfig,
	logger *slog.Logger,
	registry *stream.Registry,
	media *rtsp.Server,
	journal *logs.Journal,
	db *database.DB,
	bridge *mavlink.Bridge,
) *internalhttp.Server {
	server := internalhttp.NewServer(cfg, logger, version.Version)
	api := server.API()

	health := handlers.NewHealthHandler(version.Version, registry)
	if db != nil {
		health.WithDB(db)
	}
	if bridge != nil {
		health.WithBridge(bridge)
	}
	health.Register(api)

	handlers.NewDeviceHandler(registry).Register(api)
	handlers.NewStreamHandler(registry).Register(api)
	handlers.NewServerHandler(registry, media).Register(api)
	handlers.NewLogsHandler(journal).Register(api)

	return server
}
