// Package main is the entry point for the Stellar jukebox gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/edumarques81/stellar-jukebox/internal/config"
	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/annotation"
	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/history"
	"github.com/edumarques81/stellar-jukebox/internal/domain/jukebox"
	"github.com/edumarques81/stellar-jukebox/internal/infra/annotations"
	"github.com/edumarques81/stellar-jukebox/internal/infra/metrics"
	"github.com/edumarques81/stellar-jukebox/internal/infra/mpd"
	"github.com/edumarques81/stellar-jukebox/internal/infra/worker"
	"github.com/edumarques81/stellar-jukebox/internal/transport/socketio"
	"github.com/edumarques81/stellar-jukebox/internal/version"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logFile, err := setupLogging(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logFile.Close()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Jukebox gateway failed")
		logFile.Close()
		os.Exit(1)
	}
}

// partition is one MPD partition with its jukebox.
type partition struct {
	name   string
	client *mpd.Client
	engine *jukebox.Engine
}

func run(cfg *config.Config) error {
	info := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", info.String())
	log.Info().Msg("  MPD Jukebox Gateway")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", cfg.Server.Port).
		Str("mpd_host", cfg.MPD.Host).
		Int("mpd_port", cfg.MPD.Port).
		Strs("partitions", cfg.MPD.Partitions).
		Str("annotations", cfg.Annotations.Backend).
		Str("mode", cfg.Jukebox.Mode).
		Bool("password_set", cfg.MPD.Password != "").
		Msg("Configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The catalog client serves enumerations and album rebuilds.
	catalog := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password, mpd.DefaultPartition)
	if err := catalog.Connect(); err != nil {
		return fmt.Errorf("connect to MPD: %w", err)
	}
	defer catalog.Close()
	if err := catalog.Ping(); err != nil {
		return fmt.Errorf("MPD ping failed: %w", err)
	}
	log.Info().Msg("MPD connection verified")

	notes, closeNotes, err := openAnnotations(cfg)
	if err != nil {
		return err
	}
	defer closeNotes()

	grouping, err := cfg.GroupingTag()
	if err != nil {
		return err
	}
	settings, err := cfg.Jukebox.Settings()
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	cache := albums.NewCache(albums.BuildOptions{PageSize: cfg.MPD.PageSize, Grouping: grouping})
	builder := candidates.NewBuilder(catalog, cache, notes,
		candidates.WithPageSize(cfg.MPD.PageSize),
		candidates.WithGrouping(grouping),
	)

	pool := worker.NewPool(cfg.Workers.Count, cfg.Workers.QueueSize, worker.WithObserver(m.TaskFinished))
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	manager := jukebox.NewManager(cache, catalog, pool, m.RebuildFinished)

	defaultPartition := cfg.MPD.Partitions[0]
	socketServer := socketio.NewServer(socketio.ServerConfig{
		Jukeboxes:        socketio.ManagerLookup(manager),
		Albums:           cache,
		DefaultPartition: defaultPartition,
		Partitions:       cfg.MPD.Partitions,
		MaxExternal:      cfg.Server.MaxClients,
	})
	defer socketServer.Close()
	go func() {
		if err := socketServer.Serve(); err != nil {
			log.Error().Err(err).Msg("Socket.io server stopped")
		}
	}()

	notifier := socketio.NewNotifier(socketServer, socketio.DefaultQueueWindow)
	defer notifier.Stop()

	var partitions []partition
	for _, name := range cfg.MPD.Partitions {
		p, err := newPartition(cfg, name, settings, builder, pool, notifier, notes, m)
		if err != nil {
			return err
		}
		defer p.client.Close()
		if err := manager.Add(p.engine); err != nil {
			return err
		}
		partitions = append(partitions, p)
	}

	for i, p := range partitions {
		// Every partition sees database events; one rebuild is enough.
		forwardDatabase := i == 0 && cfg.Albums.RebuildOnChange
		if err := watchPartition(ctx, p, manager, forwardDatabase); err != nil {
			return err
		}
	}

	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(ctx) }()

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: newMux(routes{
			mpd:     catalog,
			albums:  cache,
			socket:  socketServer,
			metrics: promhttp.Handler(),
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	cancel()
	if err := <-managerDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Jukebox manager stopped with error")
	}
	log.Info().Msg("Server stopped")
	return nil
}

// openAnnotations opens the configured annotation backend.
func openAnnotations(cfg *config.Config) (annotation.Source, func(), error) {
	switch cfg.Annotations.Backend {
	case "sqlite":
		db := annotations.NewDB(cfg.AnnotationsPath())
		if err := db.Open(); err != nil {
			return nil, nil, fmt.Errorf("open annotations: %w", err)
		}
		log.Info().Str("path", cfg.AnnotationsPath()).Str("schema", db.SchemaVersion()).Msg("SQLite annotations opened")
		return db, func() { db.Close() }, nil
	default:
		// Sticker writes get their own connection so they never queue
		// behind long catalog enumerations.
		client := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password, mpd.DefaultPartition)
		if err := client.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect sticker client: %w", err)
		}
		return mpd.NewStickers(client), func() { client.Close() }, nil
	}
}

func newPartition(cfg *config.Config, name string, settings jukebox.Settings, filler jukebox.Filler, pool *worker.Pool,
	notifier jukebox.Notifier, notes annotation.Source, observer jukebox.Observer) (partition, error) {
	client := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password, name)
	if err := client.Connect(); err != nil {
		return partition{}, fmt.Errorf("connect partition %s: %w", name, err)
	}

	hist, err := history.Open(history.PartitionPath(cfg.DataDir, name), history.DefaultMaxEntries)
	if err != nil {
		client.Close()
		return partition{}, fmt.Errorf("open history of %s: %w", name, err)
	}

	engine, err := jukebox.NewEngine(jukebox.Config{
		Partition:    name,
		Player:       client,
		Filler:       filler,
		Submitter:    pool,
		Notifier:     notifier,
		History:      hist,
		Notes:        notes,
		Observer:     observer,
		Retry:        cfg.Jukebox.Retry(),
		TickInterval: cfg.Jukebox.TickInterval,
		TriggerEvery: cfg.Jukebox.TriggerEvery,
	}, settings)
	if err != nil {
		client.Close()
		return partition{}, fmt.Errorf("create jukebox of %s: %w", name, err)
	}

	log.Info().Str("partition", name).Str("mode", string(settings.Mode)).Int("history", hist.Len()).Msg("Partition ready")
	return partition{name: name, client: client, engine: engine}, nil
}

// watchPartition forwards the partition's idle events to the manager.
func watchPartition(ctx context.Context, p partition, manager *jukebox.Manager, forwardDatabase bool) error {
	events, err := p.client.Watch(ctx, mpd.WatchedSubsystems...)
	if err != nil {
		return fmt.Errorf("watch partition %s: %w", p.name, err)
	}

	go func() {
		log.Info().Str("partition", p.name).Strs("subsystems", mpd.WatchedSubsystems).Msg("MPD watcher started")
		for subsystem := range events {
			if subsystem == "database" && !forwardDatabase {
				continue
			}
			log.Debug().Str("partition", p.name).Str("subsystem", subsystem).Msg("MPD subsystem changed")
			manager.HandleEvent(p.name, subsystem)
		}
		log.Info().Str("partition", p.name).Msg("MPD watcher stopped")
	}()
	return nil
}
