// Package photo implements the verification photo pipeline: bounded re-encode,
// batch-keyed local persistence, deterministic remote paths, and best-effort purge.
// A photo is evidence, never a hard requirement; every step here may be skipped
// without affecting batch correctness.
package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // accept png camera output
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Pipeline persists and prepares photos for upload. Local files live under
// rootDir/<batchID>/photo.jpg so a batch's photo is locatable by ID alone after
// a restart.
type Pipeline struct {
	rootDir      string
	maxDimension int
	jpegQuality  int
	logger       *zap.Logger
}

// NewPipeline creates a photo pipeline rooted at rootDir.
func NewPipeline(rootDir string, maxDimension, jpegQuality int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		rootDir:      rootDir,
		maxDimension: maxDimension,
		jpegQuality:  jpegQuality,
		logger:       logger,
	}
}

// Compress re-encodes raw camera output as a JPEG whose longest edge is at most the
// configured dimension. The re-encode is deterministic for a given input.
func (p *Pipeline) Compress(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo: %w", err)
	}

	img = downscale(img, p.maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

// Persist writes compressed photo bytes into the batch-keyed directory and returns
// the durable local path. The write goes through a temp file + rename so a crash
// never leaves a half-written photo behind the recorded path.
func (p *Pipeline) Persist(batchID string, data []byte) (string, error) {
	dir := filepath.Join(p.rootDir, batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create photo dir: %w", err)
	}

	path := filepath.Join(dir, "photo.jpg")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize photo: %w", err)
	}
	return path, nil
}

// Purge deletes the local photo and its batch directory. Failures are logged and
// returned, but callers treat them as non-fatal: once synced the remote copy is
// canonical.
func (p *Pipeline) Purge(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to purge local photo",
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	// The batch directory is empty now; removal is best-effort.
	if err := os.Remove(filepath.Dir(path)); err != nil && !os.IsNotExist(err) {
		p.logger.Debug("Failed to remove photo dir", zap.Error(err))
	}
	return nil
}

// ObjectPath returns the deterministic remote object path for a batch photo.
// Re-uploading to the same path overwrites, which is what makes retry safe.
func ObjectPath(tenantID, date, batchID string) string {
	return fmt.Sprintf("attendance-photos/%s/%s/%s.jpg", tenantID, date, batchID)
}

// downscale returns img scaled so its longest edge is at most maxDim, using
// nearest-neighbor sampling. Returns img unchanged when already within bounds.
func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var dw, dh int
	if w >= h {
		dw = maxDim
		dh = h * maxDim / w
	} else {
		dh = maxDim
		dw = w * maxDim / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		sy := b.Min.Y + y*h/dh
		for x := 0; x < dw; x++ {
			sx := b.Min.X + x*w/dw
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}
