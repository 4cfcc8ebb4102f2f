package jenkins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrayang/jenkins-build-downloader/internal/common"
	"github.com/ahrayang/jenkins-build-downloader/internal/config"
)

func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()

	cfg := &config.JenkinsConfig{
		URL:             srvURL + "/",
		User:            "bot",
		Token:           "secret",
		MetadataTimeout: config.Duration(5 * time.Second),
		DownloadTimeout: config.Duration(5 * time.Second),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := NewClient(cfg, log)
	require.NoError(t, err)

	return client
}

func requireBasicAuth(t *testing.T, r *http.Request) {
	t.Helper()

	user, token, ok := r.BasicAuth()
	require.True(t, ok, "request must carry basic auth")
	require.Equal(t, "bot", user)
	require.Equal(t, "secret", token)
}

func TestListJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		require.Equal(t, "/job/Client_Windows/api/json", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("depth"))

		w.Write([]byte(`{"jobs":[{"name":"nightly"},{"name":"release"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	jobs, err := client.ListJobs(context.Background(), "Client_Windows")
	require.NoError(t, err)
	require.Equal(t, []string{"nightly", "release"}, jobs)
}

func TestListJobsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jobs":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	jobs, err := client.ListJobs(context.Background(), "Client_Windows")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestLastSuccessfulBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		require.Equal(t, "/job/Client_Android/job/nightly/lastSuccessfulBuild/api/json", r.URL.Path)

		w.Write([]byte(`{
			"number": 42,
			"url": "https://jenkins.example.com/job/Client_Android/job/nightly/42/",
			"artifacts": [{"relativePath": "out/binary.androidaab.app.aab"}]
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	build, err := client.LastSuccessfulBuild(context.Background(), "Client_Android", "nightly")
	require.NoError(t, err)
	require.Equal(t, 42, build.Number)
	require.Equal(t, "https://jenkins.example.com/job/Client_Android/job/nightly/42/", build.URL)
	require.Len(t, build.Artifacts, 1)
	require.Equal(t, "out/binary.androidaab.app.aab", build.Artifacts[0].RelativePath)
}

func TestLastSuccessfulBuildNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.LastSuccessfulBuild(context.Background(), "Client_Android", "nightly")
	require.ErrorIs(t, err, common.ErrNoSuccessfulBuild)
}

func TestGetJSONErrors(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				require.Equal(t, http.StatusInternalServerError, se.StatusCode)
				require.False(t, se.NotFound())
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"jobs": [`))
			},
			check: func(t *testing.T, err error) {
				var pe *ParseError
				require.ErrorAs(t, err, &pe)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			_, err := client.ListJobs(context.Background(), "Client_Windows")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGetJSONConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens anymore

	client := newTestClient(t, srv.URL)

	_, err := client.ListJobs(context.Background(), "Client_Windows")

	var re *RequestError
	require.ErrorAs(t, err, &re)
}

func TestOpenArtifact(t *testing.T) {
	const content = "binary bytes"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		require.Equal(t, "/job/Client_Android/job/nightly/42/artifact/out/binary.androidaab.app.aab", r.URL.Path)

		w.Write([]byte(content))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	buildURL := srv.URL + "/job/Client_Android/job/nightly/42/"
	body, err := client.OpenArtifact(context.Background(), buildURL, "out/binary.androidaab.app.aab")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestOpenArtifactStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.OpenArtifact(context.Background(), srv.URL+"/build/1/", "app.zip")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestNewClientInvalidURL(t *testing.T) {
	cfg := &config.JenkinsConfig{URL: "://not-a-url"}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewClient(cfg, log)
	require.Error(t, err)
	require.False(t, errors.Is(err, common.ErrNoSuccessfulBuild))
}
