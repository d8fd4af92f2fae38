// Package fallback draws the plain error image served when a render fails,
// so the display always receives a bitmap.
package fallback

import (
	"bytes"
	"image/color"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	Title     = "Dashboard nicht verfügbar"
	WrapWidth = 48

	margin      = 24.0
	titleFontPt = 22.0
	bodyFontPt  = 14.0
)

// Renderer draws error images. The faces are shared, so drawing is
// serialized.
type Renderer struct {
	titleFace font.Face
	bodyFace  font.Face
	logger    *zap.Logger

	mu sync.Mutex
}

// New loads the TrueType font at fontPath, falling back to the built-in
// 7x13 bitmap face when the path is empty or unreadable.
func New(fontPath string, logger *zap.Logger) *Renderer {
	r := &Renderer{titleFace: basicfont.Face7x13, bodyFace: basicfont.Face7x13, logger: logger}
	if fontPath == "" {
		return r
	}

	title, err := gg.LoadFontFace(fontPath, titleFontPt)
	if err != nil {
		logger.Warn("Failed to load error font, using built-in face",
			zap.String("path", fontPath),
			zap.Error(err))
		return r
	}
	body, err := gg.LoadFontFace(fontPath, bodyFontPt)
	if err != nil {
		logger.Warn("Failed to load error font, using built-in face",
			zap.String("path", fontPath),
			zap.Error(err))
		return r
	}
	r.titleFace, r.bodyFace = title, body
	return r
}

// Render returns a width x height PNG with the title and the wrapped
// message in black on white. It returns nil when drawing fails.
func (r *Renderer) Render(width, height int, message string) (out []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Error image drawing panicked", zap.Any("panic", rec))
			out = nil
		}
	}()

	if width <= 0 || height <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)

	dc.SetFontFace(r.titleFace)
	y := margin + dc.FontHeight()
	dc.DrawString(Title, margin, y)
	y += dc.FontHeight() * 1.5

	dc.SetFontFace(r.bodyFace)
	lineHeight := dc.FontHeight() * 1.4
	for _, line := range Wrap(message, WrapWidth) {
		y += lineHeight
		if y > float64(height)-margin {
			break
		}
		dc.DrawString(line, margin, y)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		r.logger.Error("Failed to encode error image", zap.Error(err))
		return nil
	}
	return buf.Bytes()
}

// Wrap breaks text into lines of at most width runes, greedily at spaces.
// Words longer than width are split.
func Wrap(text string, width int) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var line strings.Builder
		lineLen := 0
		for _, word := range strings.Fields(paragraph) {
			for utf8.RuneCountInString(word) > width {
				if lineLen > 0 {
					lines = append(lines, line.String())
					line.Reset()
					lineLen = 0
				}
				runes := []rune(word)
				lines = append(lines, string(runes[:width]))
				word = string(runes[width:])
			}

			n := utf8.RuneCountInString(word)
			switch {
			case n == 0:
				continue
			case lineLen == 0:
				line.WriteString(word)
				lineLen = n
			case lineLen+1+n <= width:
				line.WriteByte(' ')
				line.WriteString(word)
				lineLen += 1 + n
			default:
				lines = append(lines, line.String())
				line.Reset()
				line.WriteString(word)
				lineLen = n
			}
		}
		if lineLen > 0 {
			lines = append(lines, line.String())
		}
	}
	return lines
}
