package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ahrayang/jenkins-build-downloader/internal/config"
	"github.com/ahrayang/jenkins-build-downloader/internal/jenkins"
	"github.com/ahrayang/jenkins-build-downloader/internal/repository/state"
	"github.com/ahrayang/jenkins-build-downloader/internal/service/sync"
	"github.com/ahrayang/jenkins-build-downloader/internal/storage/artifact"
)

type App struct {
	cfgPath string
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

// Run wires everything together and drives the sync loop until ctx is
// canceled. Configuration or credential problems terminate before the first
// sweep.
func (a *App) Run(ctx context.Context) error {
	// A .env file is optional; real deployments may export the variables.
	_ = godotenv.Load()

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(&cfg.Log)
	if err != nil {
		return err
	}

	client, err := jenkins.NewClient(&cfg.Jenkins, log)
	if err != nil {
		return fmt.Errorf("cannot create jenkins client: %w", err)
	}

	repo := state.NewRepository(cfg.Sync.StateFile, log)
	if err := repo.Load(); err != nil {
		return fmt.Errorf("cannot load sync state: %w", err)
	}

	store := artifact.NewStorage(log)
	syncer := sync.New(&cfg.Sync, client, store, repo, log)

	log.Info("Start syncing",
		slog.String("jenkins_url", cfg.Jenkins.URL),
		slog.Int("platforms", len(cfg.Sync.Platforms)),
		slog.Int("workers", cfg.Sync.Workers))

	return syncer.Run(ctx)
}

// Status prints the last synchronized build number per platform job.
func (a *App) Status(w io.Writer) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := state.NewRepository(cfg.Sync.StateFile, log)
	if err := repo.Load(); err != nil {
		return fmt.Errorf("cannot load sync state: %w", err)
	}

	builds := repo.All()
	if len(builds) == 0 {
		fmt.Fprintln(w, "no synchronized builds yet")
		return nil
	}

	keys := make([]string, 0, len(builds))
	for k := range builds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, builds[k])
	}

	return nil
}

func newLogger(cfg *config.LogConfig) (*slog.Logger, error) {
	lo := &slog.HandlerOptions{}
	switch cfg.Level {
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
		})
	}

	return slog.New(slog.NewTextHandler(w, lo)), nil
}
