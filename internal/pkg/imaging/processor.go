package imaging

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// ProcessedImage is a re-encoded proof image with metadata stripped.
type ProcessedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Config for image processing
type Config struct {
	MaxWidth  int // Max width (default 2000)
	MaxHeight int // Max height (default 2000)
	Quality   int // JPEG quality 1-100 (default 85)
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		MaxWidth:  2000,
		MaxHeight: 2000,
		Quality:   85,
	}
}

// Processor normalizes uploaded payment proof screenshots.
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	def := DefaultConfig()
	if config.MaxWidth <= 0 {
		config.MaxWidth = def.MaxWidth
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = def.MaxHeight
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	return &Processor{config: config}
}

// Supports reports whether contentType can be decoded and re-encoded.
// Other accepted proof types are stored as uploaded.
func Supports(contentType string) bool {
	return contentType == "image/jpeg" || contentType == "image/png"
}

// Process decodes the image honouring EXIF orientation, downsizes it to fit
// the configured bounds and re-encodes it in its original format. Re-encoding
// drops EXIF and any other embedded metadata.
func (p *Processor) Process(reader io.Reader, contentType string) (*ProcessedImage, error) {
	if !Supports(contentType) {
		return nil, fmt.Errorf("unsupported image type: %s", contentType)
	}

	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > p.config.MaxWidth || b.Dy() > p.config.MaxHeight {
		img = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if contentType == "image/png" {
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(-3))
	} else {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.Quality))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &ProcessedImage{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}
