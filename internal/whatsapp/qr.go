package whatsapp

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

var ErrEmptyCode = errors.New("empty link code")

// RenderPNG encodes a link code as a QR image. size is the edge length in
// pixels.
func RenderPNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}

// RenderTerminal returns the code as a block-character QR for a dev console.
func RenderTerminal(code string) (string, error) {
	if code == "" {
		return "", ErrEmptyCode
	}
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
