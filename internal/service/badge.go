package service

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	badgeWidth  = 220
	badgeHeight = 44
)

var (
	badgeBackground = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	badgeAccent     = color.RGBA{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff}
	badgeText       = color.RGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff}
)

// RenderStreakBadge 生成显示当前/最长连胜的 PNG 徽章。
func RenderStreakBadge(current, longest int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, badgeWidth, badgeHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: badgeBackground}, image.Point{}, draw.Src)

	// 左侧色条，长度随当前连胜增长，满 30 天封顶。
	filled := current
	if filled > 30 {
		filled = 30
	}
	if filled < 0 {
		filled = 0
	}
	bar := image.Rect(0, badgeHeight-4, badgeWidth*filled/30, badgeHeight)
	draw.Draw(img, bar, &image.Uniform{C: badgeAccent}, image.Point{}, draw.Src)

	drawLabel(img, 10, 18, badgeAccent, "WAKESTAKE STREAK")
	drawLabel(img, 10, 34, badgeText, fmt.Sprintf("current %d  best %d", current, longest))

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode badge: %w", err)
	}
	return buf.Bytes(), nil
}

func drawLabel(img draw.Image, x, y int, c color.Color, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
