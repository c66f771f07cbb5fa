// Package media is the capture pipeline: pure transformations that turn raw
// photo/audio bytes into size-bounded artifacts before anything is persisted
// or queued. It never touches the store or the queue.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrDecode marks undecodable input. Callers must not persist or enqueue
// anything when they see it: no partially produced asset may escape.
var ErrDecode = errors.New("media: undecodable input")

// Params bounds the compression output.
type Params struct {
	MaxWidth         int
	MaxHeight        int
	Quality          int
	ThumbnailSize    int
	ThumbnailQuality int
}

// Photo is a fully produced photo artifact pair.
type Photo struct {
	Main        []byte
	Thumbnail   []byte
	Width       int
	Height      int
	ThumbWidth  int
	ThumbHeight int

	OriginalSize     int
	CompressedSize   int
	CompressionRatio float64
}

// CompressPhoto decodes raw image bytes (jpeg, png, gif or webp), scales
// them down to fit MaxWidth×MaxHeight preserving aspect ratio, re-encodes as
// JPEG at Quality, and independently produces a thumbnail bounded by
// ThumbnailSize at ThumbnailQuality. Images already inside the bounds are
// re-encoded without upscaling.
func CompressPhoto(raw []byte, p Params) (*Photo, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	fitted := imaging.Fit(img, p.MaxWidth, p.MaxHeight, imaging.Lanczos)
	var main bytes.Buffer
	if err := imaging.Encode(&main, fitted, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
		return nil, fmt.Errorf("encode main: %w", err)
	}

	thumb := imaging.Fit(img, p.ThumbnailSize, p.ThumbnailSize, imaging.Lanczos)
	var thumbBuf bytes.Buffer
	if err := imaging.Encode(&thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(p.ThumbnailQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	out := &Photo{
		Main:           main.Bytes(),
		Thumbnail:      thumbBuf.Bytes(),
		Width:          fitted.Bounds().Dx(),
		Height:         fitted.Bounds().Dy(),
		ThumbWidth:     thumb.Bounds().Dx(),
		ThumbHeight:    thumb.Bounds().Dy(),
		OriginalSize:   len(raw),
		CompressedSize: main.Len(),
	}
	if out.OriginalSize > 0 {
		out.CompressionRatio = float64(out.CompressedSize) / float64(out.OriginalSize)
	}
	return out, nil
}
