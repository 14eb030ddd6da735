package modelfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/askidmobile/meetingscribe/internal/logging"
)

func TestDownloadFile_WritesDestAndCleansUpTempOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-onnx-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "model.onnx")
	require.NoError(t, DownloadFile(context.Background(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "fake-onnx-bytes", string(data))

	_, err = os.Stat(dest + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestDownloadFile_NonOKStatusLeavesNoFileBehind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	err := DownloadFile(context.Background(), srv.URL, dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(dest + ".tmp")
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureAll_SkipsExistingFiles(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(dest, []byte("already-here"), 0o644))

	err := EnsureAll(context.Background(), []Spec{{Name: "m", Path: dest, URL: srv.URL}}, logging.NoOp())
	require.NoError(t, err)
	require.False(t, called)
}

func TestEnsureAll_SkipsWhenNoURLConfigured(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "missing.onnx")
	err := EnsureAll(context.Background(), []Spec{{Name: "m", Path: dest, URL: ""}}, logging.NoOp())
	require.NoError(t, err)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureAll_DownloadsMissingFileWhenURLConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("downloaded"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	err := EnsureAll(context.Background(), []Spec{{Name: "m", Path: dest, URL: srv.URL}}, logging.NoOp())
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "downloaded", string(data))
}

func TestEnsureAll_SkipsSpecsWithEmptyPath(t *testing.T) {
	err := EnsureAll(context.Background(), []Spec{{Name: "unused", Path: "", URL: "http://example.invalid"}}, logging.NoOp())
	require.NoError(t, err)
}
