package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/byoiap/byoiap/internal/addon"
	"github.com/byoiap/byoiap/internal/api"
	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/config"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/indexer/newznab"
	"github.com/byoiap/byoiap/internal/logger"
	"github.com/byoiap/byoiap/internal/metadata"
	"github.com/byoiap/byoiap/internal/metadata/cinemeta"
	"github.com/byoiap/byoiap/internal/metadata/tvmaze"
	"github.com/byoiap/byoiap/internal/precache"
	"github.com/byoiap/byoiap/internal/provider"
	"github.com/byoiap/byoiap/internal/provider/torbox"
	"github.com/byoiap/byoiap/internal/ranking"
	"github.com/byoiap/byoiap/internal/resolve"
	"github.com/byoiap/byoiap/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	dumpConfig := flag.Bool("dump-config", false, "Print the effective configuration and exit")
	encodePath := flag.String("encode", "", "Print the URL token of the addon configuration in this JSON file and exit")
	flag.Parse()

	// A .env file next to the binary seeds BYOIAP_* variables.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if *encodePath != "" {
		token, err := encodeToken(*encodePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().
		Str("version", api.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting byoiap")

	codec, err := addon.NewCodec(cfg.Named)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid named profiles")
	}
	if codec.Named() {
		log.Info().Strs("profiles", codec.Profiles()).Msg("serving named profiles only")
	}

	series := metadata.NewCache(metadata.CacheConfig{
		TTL:          time.Duration(cfg.Metadata.CacheTTLHours) * time.Hour,
		MaxEntries:   cfg.Metadata.CacheSize,
		FetchTimeout: time.Minute,
	}, metadata.NewService(
		log.Component("metadata"),
		tvmaze.NewClient(cfg.Metadata, log.Logger),
		cinemeta.NewClient(cfg.Metadata, log.Logger),
	), log.Component("series-cache"))

	backendClient := backend.NewHTTPClient(time.Duration(cfg.Resolve.BackendTimeout) * time.Second)
	indexers := indexer.NewRegistry(newznab.NewClient(backendClient, series, log.Logger))
	providers := provider.NewRegistry(torbox.NewClient(backendClient, torbox.DefaultBaseURL, log.Logger))

	resolver := resolve.New(resolve.Options{
		FailureURL: cfg.Resolve.FailureVideoURL,
		CacheSize:  cfg.Resolve.CacheSize,
		FollowUp:   resolve.HTTPFollowUp(backendClient, log.Logger),
	}, log.Logger)

	svc := addon.NewService(indexers, providers, resolver, precache.NewScheduler(series, log.Logger), log.Logger)
	svc.SetLimits(ranking.Limits{
		MaxPerQuality:  cfg.Ranking.MaxPerQuality,
		MinPerQuality:  cfg.Ranking.MinPerQuality,
		DownvoteWeight: cfg.Ranking.DownvoteWeight,
	})

	server := api.NewServer(cfg.Server, svc, codec, log.Logger)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if cfg.Logging.StatsCron != "" {
		err := sched.RegisterTask(scheduler.TaskConfig{
			ID:   "cache-stats",
			Name: "Cache stats",
			Cron: cfg.Logging.StatsCron,
			Func: scheduler.CacheStatsTask(map[string]scheduler.Sizer{
				"series":  series,
				"resolve": resolver,
			}, log.Component("stats")),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("invalid logging stats_cron")
		}
	}
	sched.Start()

	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}

	log.Info().Msg("server stopped")
}

// encodeToken reads an addon configuration and returns its URL token.
func encodeToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	cfg := addon.DefaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", err
	}

	codec, err := addon.NewCodec(nil)
	if err != nil {
		return "", err
	}
	return codec.Encode(cfg)
}
