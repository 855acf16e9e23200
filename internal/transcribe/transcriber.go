// Package transcribe turns downloaded media into text through an
// OpenAI-compatible speech-to-text HTTP API. Video containers are first
// reduced to mp3 with ffmpeg so only audio crosses the wire.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"

	"github.com/kaloper/douyin-fetch/pkg/file"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

// Config holds the remote ASR service configuration.
type Config struct {
	APIBase string
	APIKey  string
	Model   string
	// Timeout is the request timeout in seconds.
	Timeout int
}

type Transcriber struct {
	cfg        Config
	httpClient *http.Client
	ffmpegCmd  string
}

func New(cfg Config) *Transcriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 600
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Transcriber{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		ffmpegCmd: "ffmpeg",
	}
}

var videoExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".avi": true,
}

// Transcribe sends the media file to the ASR API and returns the text. The
// transcript is also written next to the media file as <name>.txt; a failed
// sidecar write is logged, not fatal. Temporary audio is removed on every
// exit path.
func (tr *Transcriber) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	if _, err := os.Stat(mediaPath); err != nil {
		return "", fmt.Errorf("media file not found: %w", err)
	}

	uploadPath := mediaPath
	tempAudio := false
	if videoExts[strings.ToLower(filepath.Ext(mediaPath))] {
		log.Info("Extracting audio from %s...", filepath.Base(mediaPath))
		audioPath, err := tr.extractAudio(ctx, mediaPath)
		if err != nil {
			return "", fmt.Errorf("extract audio: %w", err)
		}
		uploadPath = audioPath
		tempAudio = true
	}
	defer func() {
		if tempAudio && uploadPath != mediaPath {
			if err := os.Remove(uploadPath); err != nil && !os.IsNotExist(err) {
				log.Warn("Failed to delete temp audio %s: %v", uploadPath, err)
			}
		}
	}()

	log.Info("Sending %s to ASR API...", filepath.Base(uploadPath))
	text, err := tr.requestTranscription(ctx, uploadPath)
	if err != nil {
		return "", err
	}
	if text == "" {
		log.Warn("Transcription result is empty for %s", filepath.Base(mediaPath))
		return "", nil
	}

	lang := whatlanggo.DetectLang(text).Iso6391()
	log.Info("Transcribed %s: %d chars, language %s", filepath.Base(mediaPath), len(text), lang)

	txtPath := file.ReplaceExt(mediaPath, ".txt")
	if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
		log.Warn("Failed to save transcript file, returning result anyway: %v", err)
	} else {
		log.Info("Transcript saved to %s", txtPath)
	}

	return text, nil
}

// extractAudio produces <media>.mp3, reusing one already on disk.
func (tr *Transcriber) extractAudio(ctx context.Context, videoPath string) (string, error) {
	audioPath := file.ReplaceExt(videoPath, ".mp3")
	if _, err := os.Stat(audioPath); err == nil {
		return audioPath, nil
	}

	cmdPath, err := exec.LookPath(tr.ffmpegCmd)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, cmdPath,
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "4",
		audioPath,
		"-y",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg failed: %v: %s", err, stderr.String())
	}
	return audioPath, nil
}

func (tr *Transcriber) requestTranscription(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := writer.WriteField("model", tr.cfg.Model); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(tr.cfg.APIBase, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tr.cfg.APIKey)

	resp, err := tr.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read asr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asr error: %d - %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("malformed asr response: %w", err)
	}
	return result.Text, nil
}
