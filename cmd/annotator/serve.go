package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-annotator/internal/api"
	"github.com/heimdex/heimdex-annotator/internal/assets"
	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/config"
	"github.com/heimdex/heimdex-annotator/internal/db"
	"github.com/heimdex/heimdex-annotator/internal/logging"
	"github.com/heimdex/heimdex-annotator/internal/playback"
	"github.com/heimdex/heimdex-annotator/internal/preview"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/result"
	"github.com/heimdex/heimdex-annotator/internal/session"
	"github.com/heimdex/heimdex-annotator/internal/submit"
	"github.com/heimdex/heimdex-annotator/internal/ui"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the segment catalog and serve the annotation session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

func serve(parent context.Context, cfg *config.EnvConfig) error {
	startTime := time.Now()

	sessCfg := cfg.Session()
	if err := sessCfg.Validate(); err != nil {
		return err
	}
	mode, err := submit.ParseMode(sessCfg.Mode)
	if err != nil {
		return err
	}
	layout, err := catalog.ParseLayout(sessCfg.Layout)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex annotator",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"mode", mode,
		"layout", layout,
		"place", sessCfg.Place,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := submit.NewRepository(database.Conn())
	instanceID, err := submit.InstanceID(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure instance ID: %w", err)
	}

	cat, err := loadCatalog(ctx, cfg, layout, logger)
	if err != nil {
		return err
	}

	resolver, err := newResolver(ctx, cfg.Media())
	if err != nil {
		return err
	}
	var assetServer *playback.AssetServer
	if dir := cfg.Media().Dir; dir != "" {
		assetServer = playback.NewAssetServer(dir, logging.WithComponent(logger, "assets"))
	}

	players := playback.NewRegistry(cat.VideoKeys(), logging.WithComponent(logger, "playback"))
	defer players.Close()
	hub := realtime.NewHub(logging.WithComponent(logger, "realtime"))

	bounds := result.Bounds{Min: cfg.Selection().MinPercent, Max: cfg.Selection().MaxPercent}
	pv := cfg.Preview()
	sess := session.New(cat, players.Elements(), hub, session.Options{
		Metadata: result.Metadata{City: sessCfg.City, Area: sessCfg.Area, Place: sessCfg.Place},
		Mode:     mode,
		Bounds:   bounds,
		Preview: preview.Config{
			PollInterval: pv.PollInterval,
			SegmentGap:   pv.SegmentGap,
			PlayTimeout:  pv.PlayTimeout,
		},
		Sink:     submit.NewSink(mode, cfg.ResultsDir(), hub, logger),
		Repo:     repo,
		Resolver: resolver,
	}, logger)
	hub.OnMessage(sess.HandleMessage)

	if sessCfg.AssignmentID != "" {
		logger.Info("crowdsourcing assignment", "assignment_id", logging.SanitizeToken(sessCfg.AssignmentID))
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Session:    sess,
		Players:    players,
		Hub:        hub,
		Assets:     assetServer,
		Repository: repo,
		Logger:     logger,
		StartTime:  startTime,
		InstanceID: instanceID,
	})

	printBanner(cfg.Port(), sess, cat)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Session: sess,
			Logger:  logging.WithComponent(logger, "tray"),
			OnQuit:  cancel,
		})
		go tray.Run()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(apiServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")
		stopped := sess.StopAll()
		if stopped > 0 {
			logger.Info("stopped running previews", "count", stopped)
		}
		if tray != nil {
			tray.Quit()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func loadCatalog(ctx context.Context, cfg config.Config, layout catalog.Layout, logger *slog.Logger) (*catalog.Catalog, error) {
	media := cfg.Media()
	sessCfg := cfg.Session()

	loader := catalog.NewLoader(media.SegmentsBaseURL, media.SegmentsFile, logging.WithComponent(logger, "catalog"))
	doc, err := loader.Load(ctx, catalog.Source{Area: sessCfg.Area, Place: sessCfg.Place})
	if err != nil {
		return nil, fmt.Errorf("failed to load segment metadata: %w", err)
	}

	cat, err := catalog.New(doc, sessCfg.Videos, layout)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	if n := cat.Skipped(); n > 0 {
		logger.Warn("skipped malformed segment entries", "count", n)
	}
	logger.Info("segment catalog loaded",
		"videos", len(cat.Videos()),
		"segments", cat.Len(),
		"total_duration", cat.TotalDuration(),
	)
	return cat, nil
}

// newResolver prefers a private bucket, then local files, then the public base URL.
func newResolver(ctx context.Context, media config.Media) (assets.Resolver, error) {
	switch {
	case media.S3.Bucket != "":
		r, err := assets.NewS3Resolver(ctx, assets.S3Config{
			Endpoint:  media.S3.Endpoint,
			Bucket:    media.S3.Bucket,
			AccessKey: media.S3.AccessKey,
			SecretKey: media.S3.SecretKey,
			Region:    media.S3.Region,
			Expiry:    media.S3.PresignTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 video urls: %w", err)
		}
		return r, nil
	case media.Dir != "":
		return assets.LocalResolver{Prefix: "/media"}, nil
	default:
		return assets.PublicResolver{Base: media.VideoBaseURL}, nil
	}
}

func printBanner(port int, sess *session.Session, cat *catalog.Catalog) {
	st := sess.Status()
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 HEIMDEX ANNOTATOR v%-23s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-28d║\n", port)
	fmt.Printf("║  Session:    %-45s║\n", sess.ID())
	fmt.Printf("║  Segments:   %-45s║\n", fmt.Sprintf("%d in %d video(s)", cat.Len(), len(cat.Videos())))
	fmt.Printf("║  Target:     %-45s║\n", fmt.Sprintf("%g%% to %g%% of %.0fs", st.Bounds.Min, st.Bounds.Max, st.TotalDuration))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}
