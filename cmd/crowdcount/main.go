package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"crowdcount/internal/auth"
	"crowdcount/internal/capture"
	"crowdcount/internal/config"
	"crowdcount/internal/detection"
	"crowdcount/internal/health"
	"crowdcount/internal/identity"
	"crowdcount/internal/metrics"
	"crowdcount/internal/pipeline"
	"crowdcount/internal/reporter"
	"crowdcount/internal/services"
	"crowdcount/internal/sink"
	"crowdcount/internal/stream"
	"crowdcount/internal/tracking"
	"crowdcount/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", config.DefaultPath, "Path to the YAML configuration file")
	)
	flag.Parse()

	// Setup logger.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[crowdcount] ", log.Ltime)
	}

	os.Exit(run(*configF, logger))
}

func run(configPath string, logger *log.Logger) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Printf("failed to load config: %v", err)
		return 1
	}

	// SIGINT and SIGTERM stop the frame loop after the current iteration.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := sink.New(ctx, cfg)
	if err != nil {
		logger.Printf("failed to create %s sink: %v", cfg.Sink.Type, err)
		return 1
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Printf("failed to close sink: %v", err)
		}
	}()

	authn, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		logger.Printf("failed to configure auth: %v", err)
		return 1
	}

	tracker, closeTracker := newTracker(cfg)
	defer closeTracker()

	source, err := newSource(cfg)
	if err != nil {
		logger.Printf("failed to open video %s: %v", cfg.VideoPath(), err)
		return 1
	}

	var display pipeline.Display
	if cfg.ShowOutput {
		display, err = capture.NewWindowDisplay("crowdcount", cfg.Draw)
		if err != nil {
			logger.Printf("output window unavailable, running headless: %v", err)
			display = nil
		}
	}

	var (
		ids = identity.New()
		m   = metrics.New()
		bus = pipeline.NewEventBus()
	)

	detector := detection.NewYOLOClient(cfg.Detector.Endpoint, cfg.Detector.Timeout)
	p := pipeline.NewFramePipeline(
		source,
		pipeline.NewDetectionAdapter(detector, pipeline.DetectOptions{
			ConfidenceThreshold: float32(cfg.YOLOConfidenceScore),
			AllowedClassIDs:     cfg.YOLORequiredClassIDs,
			InputSize:           cfg.YOLOInputImgSize,
		}),
		pipeline.NewTrackingAdapter(tracker),
		ids,
		display,
	)
	p.SetEventBus(bus)
	p.SetStatsHook(m)

	rep := reporter.New(ids, s, reporter.Options{
		Interval:      cfg.CountInterval(),
		SubmitTimeout: cfg.Sink.SubmitTimeout,
		Observer: func(o reporter.Outcome) {
			m.RecordReport(o.Record.Count, o.Err)
		},
	})

	hub := ws.NewLiveHub()
	rep.AddListener(hub.OnReport)
	m.SetWindowSize(ids.Len)
	m.SetClientCount(hub.ClientCount)
	m.SetEventDrops(bus.Dropped)

	// Servers outlive the frame loop until the final report is flushed.
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	g, gctx := errgroup.WithContext(serveCtx)

	var healthSrv *health.Server
	if cfg.Server.GRPCAddr != "" {
		healthSrv = health.NewServer()
		g.Go(func() error {
			return healthSrv.ListenAndServe(gctx, cfg.Server.GRPCAddr)
		})
	}

	if cfg.Server.HTTPAddr != "" {
		hubCh, _ := bus.SubscribeChannel(16)
		g.Go(func() error {
			hub.Run(gctx, hubCh)
			return nil
		})

		var preview *stream.Preview
		if cfg.Server.StreamEnabled {
			preview = stream.NewPreview(cfg.Draw)
			previewCh, _ := bus.SubscribeChannel(4)
			g.Go(func() error {
				preview.Run(gctx, previewCh)
				return nil
			})
		}

		handler := newHTTPHandler(httpDeps{
			pipeline: p,
			reporter: rep,
			window:   ids.Len,
			store:    reportStore(s),
			auth:     authn,
			hub:      hub,
			preview:  preview,
			metrics:  m,
		})
		handleHTTPServer(gctx, g, cfg.Server.HTTPAddr, handler, logger)
	}

	// The reporter is not awaited at exit; a pending window is only sent
	// when flush_on_shutdown is set.
	repCtx, cancelRep := context.WithCancel(ctx)
	go rep.Run(repCtx)

	if healthSrv != nil {
		healthSrv.SetServing(true)
	}

	logger.Printf("counting people in %s, reporting every %s to %s sink",
		cfg.VideoPath(), cfg.CountInterval(), cfg.Sink.Type)

	reason, runErr := p.Run(ctx)
	logger.Printf("frame loop exited: %s", reason)

	if healthSrv != nil {
		healthSrv.SetServing(false)
	}
	cancelRep()

	if cfg.Report.FlushOnShutdown {
		finalCtx, cancel := context.WithTimeout(context.Background(), cfg.Sink.SubmitTimeout+5*time.Second)
		rep.Final(finalCtx)
		cancel()
	}

	bus.Close()
	hub.Close()
	cancelServe()
	if err := g.Wait(); err != nil {
		logger.Printf("server error: %v", err)
	}

	if runErr != nil {
		logger.Printf("exiting with error: %v", runErr)
		return 1
	}
	logger.Println("exited")
	return 0
}

func newTracker(cfg *config.Config) (pipeline.Tracker, func()) {
	switch cfg.Tracker.Backend {
	case "remote":
		client := detection.NewDeepSortClient(cfg.Tracker.Endpoint, cfg.Tracker.Timeout, detection.DeepSortParams{
			MaxCosineDistance: cfg.MaxCosineDist,
			NMSMaxOverlap:     cfg.NMSMaxOverlap,
			MaxIOUDistance:    cfg.MaxIOUDistance,
			MaxAge:            cfg.MaxAge,
			NInit:             cfg.NInit,
			NNBudget:          cfg.NNBudget,
			UseCUDA:           cfg.UseCUDAForDeepSort,
		})
		return client, func() {
			if err := client.Close(); err != nil {
				log.Printf("[crowdcount] failed to close tracker session: %v", err)
			}
		}
	default:
		return tracking.NewIOUTracker(tracking.Config{
			MaxIOUDistance: float32(cfg.MaxIOUDistance),
			MaxAge:         cfg.MaxAge,
			NInit:          cfg.NInit,
		}), func() {}
	}
}

func newSource(cfg *config.Config) (pipeline.VideoSource, error) {
	input := cfg.VideoPath()
	switch cfg.Source.Backend {
	case "gocv":
		src, err := capture.NewGoCVSource(input)
		if errors.Is(err, capture.ErrNoGoCV) {
			return nil, fmt.Errorf("%w, or set source.backend to ffmpeg", err)
		}
		return src, err
	default:
		src, err := capture.NewFFmpegSource(input, cfg.Source.FPS, cfg.Source.Width, cfg.Source.Height)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// reportStore exposes stored reports when records go to sqlite
func reportStore(s sink.Sink) services.ReportStore {
	if sq, ok := s.(*sink.SQLiteSink); ok {
		return sq.Database()
	}
	return nil
}
