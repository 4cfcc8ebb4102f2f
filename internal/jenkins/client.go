// Package jenkins is a thin client for the parts of the Jenkins remote
// access API the synchronizer needs: sub-job listing, last successful build
// metadata and artifact streaming.
package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ahrayang/jenkins-build-downloader/internal/common"
	"github.com/ahrayang/jenkins-build-downloader/internal/config"
	"github.com/ahrayang/jenkins-build-downloader/internal/entity"
)

type Client struct {
	baseURL         *url.URL
	user            string
	token           string
	metadataTimeout time.Duration
	downloadTimeout time.Duration
	httpClient      *http.Client
	log             *slog.Logger
}

func NewClient(cfg *config.JenkinsConfig, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid jenkins url %q: %w", cfg.URL, err)
	}

	return &Client{
		baseURL:         base,
		user:            cfg.User,
		token:           cfg.Token,
		metadataTimeout: time.Duration(cfg.MetadataTimeout),
		downloadTimeout: time.Duration(cfg.DownloadTimeout),
		httpClient:      &http.Client{},
		log:             log.With(slog.String("item", "JenkinsClient")),
	}, nil
}

// ListJobs returns the names of the immediate sub-jobs of a platform folder.
// A platform with no sub-jobs yields an empty slice, not an error.
func (c *Client) ListJobs(ctx context.Context, platform string) ([]string, error) {
	var list struct {
		Jobs []struct {
			Name string `json:"name"`
		} `json:"jobs"`
	}

	path := fmt.Sprintf("job/%s/api/json?depth=1", url.PathEscape(platform))
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(list.Jobs))
	for _, job := range list.Jobs {
		names = append(names, job.Name)
	}

	return names, nil
}

// LastSuccessfulBuild resolves the newest successful build of a sub-job.
// Returns common.ErrNoSuccessfulBuild if the job has none yet.
func (c *Client) LastSuccessfulBuild(ctx context.Context, platform, job string) (*entity.Build, error) {
	var build entity.Build

	path := fmt.Sprintf("job/%s/job/%s/lastSuccessfulBuild/api/json",
		url.PathEscape(platform), url.PathEscape(job))

	err := c.getJSON(ctx, path, &build)
	var se *StatusError
	if errors.As(err, &se) && se.NotFound() {
		return nil, common.ErrNoSuccessfulBuild
	}
	if err != nil {
		return nil, err
	}

	return &build, nil
}

// OpenArtifact starts streaming one archived artifact of a build. The caller
// owns the returned body; closing it releases the download deadline.
func (c *Client) OpenArtifact(ctx context.Context, buildURL, relativePath string) (io.ReadCloser, error) {
	u, err := url.JoinPath(buildURL, "artifact", relativePath)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cannot create request: %w", err)
	}
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &RequestError{URL: u, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(ref).String()

	c.log.Debug("GET", slog.String("url", u))

	ctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}
	req.SetBasicAuth(c.user, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &ParseError{URL: u, Err: err}
	}

	return nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}
