package media

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Thumbnail bounds accepted by the messaging transport.
const (
	ThumbnailMaxWidth  = 320
	ThumbnailMaxHeight = 320
)

// FitThumbnail scales the image at path down to fit the thumbnail bounds,
// preserving aspect ratio, and rewrites it in place as JPEG. Images already
// within bounds are only re-encoded.
func FitThumbnail(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}

	var out image.Image = img
	b := img.Bounds()
	if b.Dx() > ThumbnailMaxWidth || b.Dy() > ThumbnailMaxHeight {
		out = imaging.Fit(img, ThumbnailMaxWidth, ThumbnailMaxHeight, imaging.Lanczos)
	}

	if err := imaging.Save(out, path, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}
