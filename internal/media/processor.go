// Package media burns the watermark overlay into videos and images and
// extracts preview thumbnails.
package media

import (
	"context"
	"time"

	"github.com/maauso/watermark-bot/internal/settings"
)

// Kind distinguishes the two supported media types.
type Kind string

const (
	// KindVideo is a video submission, encoded to mp4.
	KindVideo Kind = "video"
	// KindImage is a still image submission, encoded to jpg.
	KindImage Kind = "image"
)

// Extension returns the file extension used for temp files of this kind.
func (k Kind) Extension() string {
	if k == KindVideo {
		return "mp4"
	}
	return "jpg"
}

// IsValid returns true if k is a supported kind.
func (k Kind) IsValid() bool {
	return k == KindVideo || k == KindImage
}

// Encoder defines the media operations a watermark job needs.
type Encoder interface {
	// ExtractThumbnail writes one frame of the video at offset at to
	// outputPath. It returns the path and true only when a non-empty frame
	// was produced; failures are logged and never returned.
	ExtractThumbnail(ctx context.Context, inputPath, outputPath string, at time.Duration) (string, bool)

	// Watermark draws the overlay described by s onto inputPath and writes
	// the result to outputPath.
	Watermark(ctx context.Context, inputPath, outputPath string, kind Kind, s settings.WatermarkSettings) error
}
