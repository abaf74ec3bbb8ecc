package faces

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxImageSize bounds the longest side of images sent to the detector.
const DefaultMaxImageSize = 1920

// NormalizedImage is an image re-encoded for the detector.
type NormalizedImage struct {
	Data []byte

	// Source dimensions before any resize.
	SourceWidth  int
	SourceHeight int

	// Scale converts detector coordinates back to source pixels.
	Scale float64
}

// NormalizeImage decodes any supported format, shrinks it to fit within maxSize
// (width or height) keeping the aspect ratio, and re-encodes it as JPEG.
func NormalizeImage(data []byte, maxSize int) (*NormalizedImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", width, height)
	}

	out := &NormalizedImage{SourceWidth: width, SourceHeight: height, Scale: 1}

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		// Re-encode as JPEG to ensure consistent format.
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		out.Data = buf.Bytes()
		return out, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	out.Data = buf.Bytes()
	out.Scale = float64(width) / float64(newWidth)
	return out, nil
}
