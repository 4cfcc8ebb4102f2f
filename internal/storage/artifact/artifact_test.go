package artifact

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestStorage() (*Storage, afero.Fs) {
	fs := afero.NewMemMapFs()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewStorageWithFS(fs, log), fs
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}

	return 0, fmt.Errorf("connection reset")
}

func TestStore(t *testing.T) {
	store, fs := newTestStorage()

	dest, skipped, err := store.Store("/downloads/android/nightly", "2025.08.31.10.30_nightly_app.aab", strings.NewReader("aab bytes"))
	require.NoError(t, err)
	require.False(t, skipped)
	require.Equal(t, "/downloads/android/nightly/2025.08.31.10.30_nightly_app.aab", dest)

	data, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	require.Equal(t, "aab bytes", string(data))

	// the part file must be gone after promotion
	exists, err := afero.Exists(fs, dest+partSuffix)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStoreSkipsExisting(t *testing.T) {
	store, fs := newTestStorage()

	dest := "/downloads/windows/nightly/file.zip"
	require.NoError(t, afero.WriteFile(fs, dest, []byte("original"), 0o644))

	got, skipped, err := store.Store("/downloads/windows/nightly", "file.zip", strings.NewReader("replacement"))
	require.NoError(t, err)
	require.True(t, skipped)
	require.Equal(t, dest, got)

	data, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))
}

func TestStoreMidStreamFailure(t *testing.T) {
	store, fs := newTestStorage()

	_, _, err := store.Store("/downloads/ios/nightly", "app.ipa", &failingReader{data: "partial"})

	var de *DownloadError
	require.ErrorAs(t, err, &de)

	// the final name must never become visible
	exists, err := afero.Exists(fs, "/downloads/ios/nightly/app.ipa")
	require.NoError(t, err)
	require.False(t, exists)

	// the orphaned part file is acceptable, it is skipped by later runs
	exists, err = afero.Exists(fs, "/downloads/ios/nightly/app.ipa"+partSuffix)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestExists(t *testing.T) {
	store, fs := newTestStorage()

	exists, err := store.Exists("/downloads/android", "app.aab")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, afero.WriteFile(fs, "/downloads/android/app.aab", []byte("x"), 0o644))

	exists, err = store.Exists("/downloads/android", "app.aab")
	require.NoError(t, err)
	require.True(t, exists)
}
