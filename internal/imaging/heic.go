// Package imaging converts downloaded HEIC images into JPEG so galleries end
// up in a universally readable format.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kaloper/douyin-fetch/pkg/file"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

// HEICConverter shells out to ffmpeg. The source file is kept; a sibling
// .jpg marks the conversion as done.
type HEICConverter struct {
	ffmpegCmd string
}

func NewHEICConverter() *HEICConverter {
	return &HEICConverter{ffmpegCmd: "ffmpeg"}
}

// Convert produces <image>.jpg next to the source. Non-HEIC input is a no-op
// so the converter can be applied to every downloaded image.
func (c *HEICConverter) Convert(ctx context.Context, path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".heic") {
		return nil
	}

	cmdPath, err := exec.LookPath(c.ffmpegCmd)
	if err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}

	jpgPath := file.ReplaceExt(path, ".jpg")
	cmd := exec.CommandContext(ctx, cmdPath,
		"-i", path,
		"-q:v", "2",
		jpgPath,
		"-y",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("convert %s: %v: %s", filepath.Base(path), err, stderr.String())
	}

	log.Info("Converted %s to jpg", filepath.Base(path))
	return nil
}
