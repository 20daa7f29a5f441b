// Package codec converts between encoded image bytes and in-memory rasters.
// Every output is JPEG; callers flatten alpha with ToRGB before encoding.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"imgpipe/internal/models"
)

// DefaultQuality is the JPEG quality used by every stage.
const DefaultQuality = 90

// ErrDecode is returned for bytes that are not a complete supported image.
var ErrDecode = errors.New("codec: cannot decode image")

// RawImage is a decoded raster with the attributes read from its source.
type RawImage struct {
	Image       image.Image
	Width       int
	Height      int
	Mode        models.ColorMode
	Transparent bool
	Format      models.ImageFormat
}

// Decode reads a JPEG, PNG, GIF or WebP image. It never returns a partial raster.
func Decode(data []byte) (*RawImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrDecode, b)
	}

	mode, transparent := describe(img, name, data)
	return &RawImage{
		Image:       img,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Mode:        mode,
		Transparent: transparent,
		Format:      formatOf(name),
	}, nil
}

// Encode writes the raster as a JPEG at the given quality.
func Encode(img *RawImage, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img.Image, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("codec: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales to exactly w x h with Lanczos resampling; aspect ratio is not kept.
func Resize(img *RawImage, w, h int) (*RawImage, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("codec: invalid target size %dx%d", w, h)
	}
	dst := imaging.Resize(img.Image, w, h, imaging.Lanczos)
	return &RawImage{
		Image:       dst,
		Width:       w,
		Height:      h,
		Mode:        img.Mode,
		Transparent: img.Transparent,
		Format:      img.Format,
	}, nil
}

// ToRGB drops the alpha channel, keeping the stored colour of every pixel.
// The result is backed by an *image.RGBA whose alpha is fully opaque.
func ToRGB(img *RawImage) *RawImage {
	n := imaging.Clone(img.Image)
	for i := 3; i < len(n.Pix); i += 4 {
		n.Pix[i] = 0xff
	}
	rgba := &image.RGBA{Pix: n.Pix, Stride: n.Stride, Rect: n.Rect}
	return &RawImage{
		Image:  rgba,
		Width:  rgba.Rect.Dx(),
		Height: rgba.Rect.Dy(),
		Mode:   models.ModeRGB,
		Format: img.Format,
	}
}

func formatOf(name string) models.ImageFormat {
	switch name {
	case "jpeg":
		return models.FormatJPEG
	case "png":
		return models.FormatPNG
	case "gif":
		return models.FormatGIF
	case "webp":
		return models.FormatWEBP
	default:
		return models.FormatUnknown
	}
}

// describe reports the colour mode and whether the source carries
// transparency. PNGs are classified by their header because image/png widens
// gray+alpha and tRNS images to NRGBA.
func describe(img image.Image, format string, data []byte) (models.ColorMode, bool) {
	if format == "png" {
		if ct, trns, ok := pngHeader(data); ok {
			mode := pngMode(ct)
			return mode, trns || mode == models.ModeRGBA || mode == models.ModeLA
		}
	}
	mode := modeOf(img)
	return mode, mode == models.ModeRGBA || paletteHasAlpha(img)
}

// modeOf maps the concrete raster type chosen by the decoder to a colour mode.
// Rasters with an alpha channel count as RGBA only if a pixel is not opaque.
func modeOf(img image.Image) models.ColorMode {
	switch v := img.(type) {
	case *image.Gray, *image.Gray16:
		return models.ModeL
	case *image.Paletted:
		return models.ModeP
	case *image.CMYK:
		return models.ModeCMYK
	case *image.NRGBA, *image.NRGBA64, *image.NYCbCrA:
		if v.(interface{ Opaque() bool }).Opaque() {
			return models.ModeRGB
		}
		return models.ModeRGBA
	default:
		return models.ModeRGB
	}
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngHeader returns the IHDR colour type and whether a tRNS chunk appears
// before the image data.
func pngHeader(data []byte) (colorType byte, trns bool, ok bool) {
	// signature, IHDR length and type, width, height, bit depth
	const colorTypeOffset = 8 + 8 + 9
	if len(data) <= colorTypeOffset || !bytes.HasPrefix(data, pngSignature) ||
		string(data[12:16]) != "IHDR" {
		return 0, false, false
	}
	colorType = data[colorTypeOffset]

	for off := len(pngSignature); off+8 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		switch string(data[off+4 : off+8]) {
		case "tRNS":
			trns = true
		case "IDAT", "IEND":
			return colorType, trns, true
		}
		off += 12 + n
	}
	return colorType, trns, true
}

func pngMode(colorType byte) models.ColorMode {
	switch colorType {
	case 0:
		return models.ModeL
	case 2:
		return models.ModeRGB
	case 3:
		return models.ModeP
	case 4:
		return models.ModeLA
	default:
		return models.ModeRGBA
	}
}

func paletteHasAlpha(img image.Image) bool {
	p, ok := img.(*image.Paletted)
	if !ok {
		return false
	}
	for _, c := range p.Palette {
		if _, _, _, a := c.RGBA(); a < 0xffff {
			return true
		}
	}
	return false
}
