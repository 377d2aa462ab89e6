// Package ingest loads and validates receipt images before they reach a model.
// Validation is shallow: the header must decode as a supported format.
package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/webp"
)

// MaxImageBytes bounds the size of a single receipt image.
const MaxImageBytes = 20 << 20

var ErrInvalidImage = errors.New("invalid image")

// Image is a validated receipt image.
type Image struct {
	Data   []byte
	Format string // "jpeg", "png", "gif", "webp"
	Width  int
	Height int
	Source string // File path or "base64"
}

// MIME returns the media type for the image format.
func (img *Image) MIME() string {
	return "image/" + img.Format
}

// Validate checks that data is a non-empty image in a supported format.
func Validate(data []byte, source string) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidImage, source)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrInvalidImage, source, len(data), MaxImageBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidImage, source, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrInvalidImage, source)
	}

	return &Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Source: source,
	}, nil
}

// LoadFile reads and validates an image file.
func LoadFile(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("image not found: %s", path)
	}
	if info.Size() > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrInvalidImage, path, info.Size(), MaxImageBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return Validate(data, path)
}

// DecodeBase64 decodes and validates a base64 image payload. A data URL
// prefix ("data:image/png;base64,") is accepted.
func DecodeBase64(payload string) (*Image, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: image_b64 is empty", ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: image_b64: %v", ErrInvalidImage, err)
	}
	return Validate(data, "base64")
}

var numberSuffix = regexp.MustCompile(`-(\d+)\.[A-Za-z0-9]+$`)

// SortByNumber sorts image paths by their numeric suffix.
// e.g., ["scan-2.jpg", "scan-1.jpg", "scan-10.jpg"] -> ["scan-1.jpg", "scan-2.jpg", "scan-10.jpg"]
func SortByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	sort.SliceStable(sorted, func(i, j int) bool {
		mi := numberSuffix.FindStringSubmatch(sorted[i])
		mj := numberSuffix.FindStringSubmatch(sorted[j])

		// If both have numbers, sort numerically
		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			if ni != nj {
				return ni < nj
			}
			return sorted[i] < sorted[j]
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}

		return sorted[i] < sorted[j]
	})

	return sorted
}

// TaskID derives a task identifier from an image filename.
// e.g., "/scans/grocery-2024-03.jpg" -> "grocery-2024-03"
func TaskID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
