package watermark

import (
	"fmt"
	"os"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// Font is a parsed TrueType font at a fixed pixel size, or the built-in
// bitmap face when none could be loaded. It is safe for concurrent use; the
// faces it returns are not, so take one per drawing call.
type Font struct {
	ttf  *truetype.Font
	size float64
}

// Builtin returns the 7x13 bitmap fallback.
func Builtin() *Font {
	return &Font{}
}

// LoadFont parses the TrueType font at path. Any failure yields the built-in
// font and a non-nil reason, so the caller always gets a usable Font.
func LoadFont(path string, size float64) (*Font, error) {
	if path == "" {
		return Builtin(), fmt.Errorf("no font file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Builtin(), fmt.Errorf("read font: %w", err)
	}
	f, err := ParseFont(data, size)
	if err != nil {
		return Builtin(), fmt.Errorf("parse font %s: %w", path, err)
	}
	return f, nil
}

// ParseFont parses TrueType data.
func ParseFont(data []byte, size float64) (*Font, error) {
	ttf, err := truetype.Parse(data)
	if err != nil {
		return nil, err
	}
	return &Font{ttf: ttf, size: size}, nil
}

// Face returns a new face. truetype faces cache glyphs and reuse a mask
// buffer between calls.
func (f *Font) Face() font.Face {
	if f == nil || f.ttf == nil {
		return basicfont.Face7x13
	}
	return truetype.NewFace(f.ttf, &truetype.Options{
		Size:    f.size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
