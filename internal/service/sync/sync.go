// Package sync implements the sweep scheduler: every interval it enumerates
// the sub-jobs of each configured platform and mirrors the artifacts of
// their newest successful builds through a fixed-size worker pool.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrayang/jenkins-build-downloader/internal/common"
	"github.com/ahrayang/jenkins-build-downloader/internal/config"
	"github.com/ahrayang/jenkins-build-downloader/internal/entity"
)

const (
	serviceName = "sync"

	// Minute granularity, so retries of the same build within a minute
	// collapse onto the same destination name.
	timestampLayout = "2006.01.02.15.04"
)

type BuildSource interface {
	ListJobs(ctx context.Context, platform string) ([]string, error)
	LastSuccessfulBuild(ctx context.Context, platform, job string) (*entity.Build, error)
	OpenArtifact(ctx context.Context, buildURL, relativePath string) (io.ReadCloser, error)
}

type ArtifactStorage interface {
	Exists(dir, name string) (bool, error)
	Store(dir, name string, r io.Reader) (string, bool, error)
}

type StateRepository interface {
	Get(platform, job string) (int, bool)
	RecordBuild(platform, job string, number int) error
}

type task struct {
	platform config.PlatformConfig
	job      string
}

type Syncer struct {
	cfg    *config.SyncConfig
	source BuildSource
	store  ArtifactStorage
	state  StateRepository
	now    func() time.Time
	log    *slog.Logger
}

func New(cfg *config.SyncConfig, source BuildSource, store ArtifactStorage, state StateRepository, log *slog.Logger) *Syncer {
	return &Syncer{
		cfg:    cfg,
		source: source,
		store:  store,
		state:  state,
		now:    time.Now,
		log:    log.With(slog.String("service", serviceName)),
	}
}

// Run sweeps all platforms, sleeps the configured interval and repeats until
// ctx is canceled. A canceled context is a normal shutdown, not an error.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("Stopped")
			return nil
		case <-time.After(time.Duration(s.cfg.SweepInterval)):
		}
	}
}

// Sweep enumerates every platform job pair once and waits until every
// dispatched sync task finished. A single job's failure never aborts the
// sweep or affects other jobs.
func (s *Syncer) Sweep(ctx context.Context) {
	log := s.log.With(slog.String("sweep_id", uuid.NewString()))
	start := s.now()

	in := make(chan task)

	var wg stdsync.WaitGroup
	wg.Add(s.cfg.Workers)
	for n := 0; n < s.cfg.Workers; n++ {
		go s.worker(ctx, n, in, &wg, log)
	}

enqueue:
	for i := range s.cfg.Platforms {
		platform := s.cfg.Platforms[i]

		jobs, err := s.source.ListJobs(ctx, platform.Name)
		if err != nil {
			log.Error("Cannot list jobs", slog.String("platform", platform.Name), slog.Any("error", err))

			continue
		}

		for _, job := range jobs {
			select {
			case <-ctx.Done():
				break enqueue
			case in <- task{platform: platform, job: job}:
			}
		}
	}
	close(in)

	wg.Wait()

	log.Info("Sweep complete", slog.Duration("elapsed", s.now().Sub(start)))
}

func (s *Syncer) worker(ctx context.Context, n int, in <-chan task, wg *stdsync.WaitGroup, log *slog.Logger) {
	defer wg.Done()

	log = log.With(slog.Int("worker_id", n))

	for t := range in {
		if err := s.syncJob(ctx, t.platform, t.job, log); err != nil {
			log.Error("Sync failed",
				slog.String("platform", t.platform.Name),
				slog.String("job", t.job),
				slog.Any("error", err))
		}
	}
}

func (s *Syncer) syncJob(ctx context.Context, platform config.PlatformConfig, job string, log *slog.Logger) error {
	log = log.With(slog.String("platform", platform.Name), slog.String("job", job))

	build, err := s.source.LastSuccessfulBuild(ctx, platform.Name, job)
	if errors.Is(err, common.ErrNoSuccessfulBuild) {
		log.Info("No successful build yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot resolve last successful build: %w", err)
	}

	if last, ok := s.state.Get(platform.Name, job); ok && last == build.Number {
		return nil
	}

	if len(build.Artifacts) == 0 {
		log.Warn("Build has no artifacts", slog.Int("build", build.Number))
		return nil
	}

	targets := filterArtifacts(platform.Keyword, build.Artifacts)
	if len(targets) == 0 {
		log.Warn("No artifacts match keyword",
			slog.Int("build", build.Number), slog.String("keyword", platform.Keyword))
		return nil
	}

	dir := filepath.Join(s.cfg.DestinationRoot, platform.Folder, strings.ToLower(job))
	ts := s.now().Format(timestampLayout)

	for _, art := range targets {
		name := fmt.Sprintf("%s_%s_%s", ts, job, path.Base(art.RelativePath))

		exists, err := s.store.Exists(dir, name)
		if err != nil {
			return fmt.Errorf("cannot check artifact %s: %w", name, err)
		}
		if exists {
			log.Info("Already downloaded, skipped", slog.String("name", name))

			continue
		}

		if err := s.downloadArtifact(ctx, build, art.RelativePath, dir, name, log); err != nil {
			return err
		}
	}

	if err := s.state.RecordBuild(platform.Name, job, build.Number); err != nil {
		return fmt.Errorf("cannot record build %d: %w", build.Number, err)
	}

	return nil
}

func (s *Syncer) downloadArtifact(ctx context.Context, build *entity.Build, relativePath, dir, name string, log *slog.Logger) error {
	body, err := s.source.OpenArtifact(ctx, build.URL, relativePath)
	if err != nil {
		return fmt.Errorf("cannot open artifact %s: %w", relativePath, err)
	}
	defer body.Close()

	dest, skipped, err := s.store.Store(dir, name, body)
	if err != nil {
		return fmt.Errorf("cannot store artifact %s: %w", relativePath, err)
	}

	if skipped {
		log.Info("Already downloaded, skipped", slog.String("path", dest))
		return nil
	}

	log.Info("Downloaded", slog.Int("build", build.Number), slog.String("path", dest))

	return nil
}

func filterArtifacts(keyword string, artifacts []entity.Artifact) []entity.Artifact {
	kw := strings.ToLower(keyword)

	var out []entity.Artifact
	for _, a := range artifacts {
		if strings.Contains(strings.ToLower(a.RelativePath), kw) {
			out = append(out, a)
		}
	}

	return out
}
