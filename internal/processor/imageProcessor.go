package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Overscale factor applied on top of the cover fit so the Ken Burns pan has
// headroom to move inside the frame without exposing edges.
const PanHeadroom = 1.1

// ImageProcessor loads a reference image and prepares it as a render frame.
type ImageProcessor struct {
	img image.Image
}

func (i *ImageProcessor) LoadPNG(r io.Reader) error {
	img, err := png.Decode(r)
	i.img = img
	return err
}

func (i *ImageProcessor) LoadJPEG(r io.Reader) error {
	img, err := jpeg.Decode(r)
	i.img = img
	return err
}

func (i *ImageProcessor) LoadWEBP(r io.Reader) error {
	img, err := webp.Decode(r)
	i.img = img
	return err
}

// Load picks the decoder from the sniffed extension.
func (i *ImageProcessor) Load(r io.Reader, ext string) error {
	switch strings.ToLower(ext) {
	case ".png":
		return i.LoadPNG(r)
	case ".jpg", ".jpeg":
		return i.LoadJPEG(r)
	case ".webp":
		return i.LoadWEBP(r)
	default:
		return fmt.Errorf("unsupported image extension: %s", ext)
	}
}

// CoverResize scales the image so it covers width x height with pan headroom,
// then center-crops to the overscaled box. The result is always larger than
// the target frame so the composer can pan across it.
func (i *ImageProcessor) CoverResize(width, height int) {
	coverW := int(float64(width) * PanHeadroom)
	coverH := int(float64(height) * PanHeadroom)
	i.img = imaging.Fill(i.img, coverW, coverH, imaging.Center, imaging.Lanczos)
}

// GetJPEG encodes the current frame for ffmpeg input.
func (i *ImageProcessor) GetJPEG() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := jpeg.Encode(buf, i.img, &jpeg.Options{Quality: 90})
	return buf.Bytes(), err
}

// GetWEBP encodes the current frame as a poster image.
func (i *ImageProcessor) GetWEBP() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := webp.Encode(buf, i.img, &webp.Options{
		Lossless: false,
		Quality:  90,
		Exact:    true,
	})
	return buf.Bytes(), err
}

func (i *ImageProcessor) GetBounds() (int, int) {
	return i.img.Bounds().Size().X, i.img.Bounds().Size().Y
}

// PlaceholderFrame builds a solid brand-color frame used when the request
// carries no reference images.
func PlaceholderFrame(hexColor string, width, height int) (*ImageProcessor, error) {
	c, err := ParseHexColor(hexColor)
	if err != nil {
		return nil, err
	}
	img := imaging.New(width, height, c)
	return &ImageProcessor{img: img}, nil
}

// ParseHexColor parses "#RRGGBB" (or "RRGGBB") into an opaque color.
func ParseHexColor(s string) (color.NRGBA, error) {
	v := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(v) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{
		R: uint8(n >> 16),
		G: uint8(n >> 8),
		B: uint8(n),
		A: 0xff,
	}, nil
}
