package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
)

const iconSize = 16

var (
	iconFrame  = color.NRGBA{R: 0x2b, G: 0x3a, B: 0x4a, A: 0xff}
	iconScreen = color.NRGBA{R: 0x3c, G: 0xb3, B: 0x71, A: 0xff}
)

// monitorGlyph draws a small monitor on a stand
func monitorGlyph() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	for y := 1; y <= 11; y++ {
		for x := 1; x <= 14; x++ {
			c := iconFrame
			if x > 2 && x < 13 && y > 2 && y < 10 {
				c = iconScreen
			}
			img.SetNRGBA(x, y, c)
		}
	}
	for y := 12; y <= 13; y++ {
		img.SetNRGBA(7, y, iconFrame)
		img.SetNRGBA(8, y, iconFrame)
	}
	for x := 4; x <= 11; x++ {
		img.SetNRGBA(x, 14, iconFrame)
	}
	return img
}

// encodeICO wraps img in a single-image 32bpp ICO. systray needs ICO on
// Windows and accepts it elsewhere.
func encodeICO(img *image.NRGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	maskStride := ((w + 31) / 32) * 4
	pixelBytes := w * h * 4
	maskBytes := maskStride * h
	const headerSize = 40

	var buf bytes.Buffer
	le := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }

	// ICONDIR
	le(uint16(0))
	le(uint16(1))
	le(uint16(1))

	// ICONDIRENTRY
	buf.WriteByte(byte(w))
	buf.WriteByte(byte(h))
	buf.WriteByte(0)
	buf.WriteByte(0)
	le(uint16(1))
	le(uint16(32))
	le(uint32(headerSize + pixelBytes + maskBytes))
	le(uint32(6 + 16))

	// BITMAPINFOHEADER, height doubled for the AND mask
	le(uint32(headerSize))
	le(int32(w))
	le(int32(h * 2))
	le(uint16(1))
	le(uint16(32))
	le(uint32(0))
	le(uint32(pixelBytes + maskBytes))
	le([4]uint32{})

	// BGRA rows, bottom up
	for y := h - 1; y >= 0; y-- {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(x, y)
			buf.Write([]byte{c.B, c.G, c.R, c.A})
		}
	}
	// Alpha carries transparency, so the mask stays clear
	buf.Write(make([]byte, maskBytes))
	return buf.Bytes()
}

func getIcon() []byte {
	return encodeICO(monitorGlyph())
}
