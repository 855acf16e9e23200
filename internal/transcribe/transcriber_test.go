package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMediaFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fake audio payload"), 0o644))
	return path
}

func newASRServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func TestTranscribe_AudioFile(t *testing.T) {
	t.Parallel()

	srv := newASRServer(t, "hello from the audio")
	defer srv.Close()

	tr := New(Config{APIBase: srv.URL, APIKey: "test-key"})

	dir := t.TempDir()
	// mp3 input skips the ffmpeg extraction step entirely.
	mediaPath := writeMediaFile(t, dir, "note.mp3")

	text, err := tr.Transcribe(context.Background(), mediaPath)
	require.NoError(t, err)
	assert.Equal(t, "hello from the audio", text)

	// Transcript sidecar lands next to the media file.
	saved, err := os.ReadFile(filepath.Join(dir, "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from the audio", string(saved))

	// The source is never treated as temp audio.
	assert.FileExists(t, mediaPath)
}

func TestTranscribe_MissingFile(t *testing.T) {
	t.Parallel()

	tr := New(Config{APIBase: "http://unused", APIKey: "test-key"})

	_, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := New(Config{APIBase: srv.URL, APIKey: "test-key"})
	mediaPath := writeMediaFile(t, t.TempDir(), "note.mp3")

	_, err := tr.Transcribe(context.Background(), mediaPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestTranscribe_EmptyResultIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := newASRServer(t, "")
	defer srv.Close()

	tr := New(Config{APIBase: srv.URL, APIKey: "test-key"})
	dir := t.TempDir()
	mediaPath := writeMediaFile(t, dir, "silence.mp3")

	text, err := tr.Transcribe(context.Background(), mediaPath)
	require.NoError(t, err)
	assert.Empty(t, text)
	// No sidecar for an empty transcript.
	assert.NoFileExists(t, filepath.Join(dir, "silence.txt"))
}

func TestTranscribe_TempAudioRemovedOnFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "asr down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := New(Config{APIBase: srv.URL, APIKey: "test-key"})
	dir := t.TempDir()
	videoPath := writeMediaFile(t, dir, "clip.mp4")
	audioPath := writeMediaFile(t, dir, "clip.mp3")

	_, err := tr.Transcribe(context.Background(), videoPath)
	require.Error(t, err)
	assert.NoFileExists(t, audioPath)
}

func TestTranscribe_ReusesExtractedAudio(t *testing.T) {
	t.Parallel()

	srv := newASRServer(t, "reused extraction")
	defer srv.Close()

	tr := New(Config{APIBase: srv.URL, APIKey: "test-key"})
	dir := t.TempDir()
	videoPath := writeMediaFile(t, dir, "clip.mp4")
	// Pre-existing mp3 sidesteps the ffmpeg dependency in tests.
	audioPath := writeMediaFile(t, dir, "clip.mp3")

	text, err := tr.Transcribe(context.Background(), videoPath)
	require.NoError(t, err)
	assert.Equal(t, "reused extraction", text)

	// Temp audio is deleted after upload, the video stays.
	assert.NoFileExists(t, audioPath)
	assert.FileExists(t, videoPath)
}
