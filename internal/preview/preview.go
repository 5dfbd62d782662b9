// Package preview renders poster frames from captured clips. A single frame
// is pulled out of the artifact with ffmpeg and then resized into the
// configured bounding boxes.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/camkeep/camkeep/pkg/schema"
)

// Spec is one requested preview size.
type Spec struct {
	Name   string
	Width  int
	Height int
}

// Extractor renders previews for finished captures.
type Extractor struct {
	FFmpegPath string
	Sizes      []Spec
	Logger     *slog.Logger
}

func NewExtractor(ffmpegPath string, sizes []Spec, logger *slog.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{FFmpegPath: ffmpegPath, Sizes: sizes, Logger: logger}
}

// Extract renders one preview per configured size next to the clip. The
// outputs are named <clip>_<size>.jpg.
func (e *Extractor) Extract(ctx context.Context, clipPath string) ([]schema.PreviewOutput, error) {
	if len(e.Sizes) == 0 {
		return nil, nil
	}

	poster, err := e.posterFrame(ctx, clipPath)
	if err != nil {
		return nil, err
	}
	defer os.Remove(poster)

	return Resize(poster, clipPath, e.Sizes)
}

// posterFrame extracts a representative frame from the clip into a temp
// file. The thumbnail filter picks the frame; -frames:v 1 stops after it.
func (e *Extractor) posterFrame(ctx context.Context, clipPath string) (string, error) {
	tmp, err := os.CreateTemp("", "camkeep-poster-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create poster file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close poster file: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-i", clipPath,
		"-vf", "thumbnail",
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		tmp.Name(),
	}
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("extract poster frame: %w\noutput: %s", err, out)
	}
	return tmp.Name(), nil
}

// Resize fits the poster into each bounding box without upscaling and writes
// the results next to basePath.
func Resize(posterPath, basePath string, sizes []Spec) ([]schema.PreviewOutput, error) {
	src, err := imaging.Open(posterPath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open poster: %w", err)
	}

	base := strings.TrimSuffix(basePath, filepath.Ext(basePath))
	var outputs []schema.PreviewOutput
	for _, size := range sizes {
		fitted := imaging.Fit(src, size.Width, size.Height, imaging.Lanczos)
		dstPath := fmt.Sprintf("%s_%s.jpg", base, size.Name)
		if err := imaging.Save(fitted, dstPath); err != nil {
			return nil, fmt.Errorf("save preview %s: %w", size.Name, err)
		}
		b := fitted.Bounds()
		outputs = append(outputs, schema.PreviewOutput{
			Name:   size.Name,
			Path:   dstPath,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}
	return outputs, nil
}

// ParseSizes parses a size list of the form "name:widthxheight,..." as used
// in configuration, e.g. "small:320x180,large:1280x720".
func ParseSizes(value string) ([]Spec, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var sizes []Spec
	for _, pair := range strings.Split(value, ",") {
		parts := strings.Split(strings.TrimSpace(pair), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid size %q, expected 'name:widthxheight'", pair)
		}
		name := strings.TrimSpace(parts[0])
		dims := strings.Split(parts[1], "x")
		if len(dims) != 2 {
			return nil, fmt.Errorf("invalid dimensions %q, expected 'widthxheight'", parts[1])
		}
		width, err := strconv.Atoi(strings.TrimSpace(dims[0]))
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("invalid width in %q", pair)
		}
		height, err := strconv.Atoi(strings.TrimSpace(dims[1]))
		if err != nil || height <= 0 {
			return nil, fmt.Errorf("invalid height in %q", pair)
		}
		sizes = append(sizes, Spec{Name: name, Width: width, Height: height})
	}
	return sizes, nil
}
