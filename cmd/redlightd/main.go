package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/LdDl/redlight-go/api"
	"github.com/LdDl/redlight-go/clip"
	"github.com/LdDl/redlight-go/config"
	"github.com/LdDl/redlight-go/pipeline"
	"github.com/LdDl/redlight-go/registry"
	"github.com/LdDl/redlight-go/stream"
	"github.com/LdDl/redlight-go/video"
	"github.com/LdDl/redlight-go/zone"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		listen     = flag.String("listen", "", "HTTP listen address, overrides http.addr")
		source     = flag.String("source", "", "video file or stream URL, overrides source.path")
		autostart  = flag.Bool("autostart", false, "start processing on launch")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *listen, *source)
	if err != nil {
		slog.Error("bad configuration", "error", err.Error())
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, *autostart, logger); err != nil {
		logger.Error("redlightd failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("redlightd stopped")
}

func loadConfig(path, listen, source string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if listen != "" {
		cfg.HTTP.Addr = listen
	}
	if source != "" {
		cfg.Source.Path = source
		cfg.Source.Camera = nil
	}
	return cfg, config.Validate(cfg)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, autostart bool, logger *slog.Logger) error {
	poly, err := cfg.ZonePolygon()
	if err != nil {
		return err
	}
	activeZone, err := zone.New(poly)
	if err != nil {
		return err
	}
	settings, err := pipeline.NewSettings(activeZone, cfg.SourceSpec())
	if err != nil {
		return err
	}
	reg, err := registry.Open(registry.Options{
		Path:        cfg.Recording.LogPath,
		MemoryLimit: cfg.Registry.MemoryLimit,
		Logger:      logger,
	})
	if err != nil {
		return errors.Wrap(err, "can't open violation log")
	}

	vehicleModel, err := video.LoadModel(cfg.Models.VehiclePath, cfg.Models.InputSize)
	if err != nil {
		return err
	}
	defer vehicleModel.Close()
	lightModel, err := video.LoadModel(cfg.Models.LightPath, cfg.Models.InputSize)
	if err != nil {
		return err
	}
	defer lightModel.Close()

	feed := stream.NewFeed()
	orch, err := pipeline.New(pipeline.Options[gocv.Mat]{
		Settings:   settings,
		Opener:     video.CaptureOpener{},
		Detector:   video.NewVehicleDetector(vehicleModel),
		NewTracker: pipeline.VehicleTrackerFactory[gocv.Mat](cfg.TrackerOptions()),
		Classifier: video.NewLightClassifier(lightModel, cfg.Models.LightConfidence),
		Annotator:  video.Annotator{},
		Sink:       video.NewMJPEGSink(feed, video.DefaultJPEGQuality),
		Frames:     video.MatFrames{},
		Exporter:   clip.NewExporter[gocv.Mat](cfg.Recording.ClipsDir, video.ClipWriterFactory{}, logger),
		Registry:   reg,

		PreSeconds:    cfg.Recording.PreSeconds,
		PostSeconds:   cfg.Recording.PostSeconds,
		FallbackFPS:   cfg.Recording.FallbackFPS,
		LightInterval: cfg.Pipeline.LightInterval,
		Confidence:    cfg.Models.Confidence,
		ErrorBuffer:   cfg.Pipeline.ErrorBuffer,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	shutdownTimeout := time.Duration(cfg.HTTP.ShutdownTimeoutS) * time.Second

	srv := api.NewServer(orch, reg, api.ServerOptions{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadHeaderTimeout) * time.Second,
		ShutdownTimeout:   shutdownTimeout,
		ClipsDir:          cfg.Recording.ClipsDir,
		QueryLimit:        cfg.Registry.QueryLimit,
		Feed:              feed,
		RunContext:        ctx,
		Logger:            logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-orch.Errors():
				logger.Warn("pipeline error", "error", err.Error())
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		orch.Stop()
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := orch.Wait(waitCtx); err != nil {
			logger.Warn("pipeline didn't stop in time", "error", err.Error())
		}
		return srv.Stop(context.Background())
	})

	if autostart {
		if err := orch.Start(ctx); err != nil {
			logger.Error("can't start pipeline", "error", err.Error())
		}
	}
	return g.Wait()
}
