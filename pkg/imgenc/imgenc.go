// Package imgenc encodes generated images for delivery and names them for storage.
package imgenc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
)

// JPEGQuality matches the quality PIL uses when none is given.
const JPEGQuality = 75

var ErrInvalidFormat = errors.New("invalid image format")

// Format is an output encoding.
type Format int

const (
	PNG Format = iota + 1
	JPEG
)

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	if enc, ok := encoders[f]; ok {
		return enc.contentType
	}
	return ""
}

// Requested is a validated format together with the extension the caller
// asked for, so that "jpg" requests produce ".jpg" keys.
type Requested struct {
	Format Format
	Ext    string
}

// DefaultFormat is used when a request names no format.
var DefaultFormat = Requested{Format: PNG, Ext: "png"}

// ParseFormat validates a requested format name.
func ParseFormat(s string) (Requested, error) {
	ext := strings.ToLower(strings.TrimSpace(s))
	switch ext {
	case "png":
		return Requested{Format: PNG, Ext: ext}, nil
	case "jpeg", "jpg":
		return Requested{Format: JPEG, Ext: ext}, nil
	}
	return Requested{}, fmt.Errorf("%w: %q (supported formats are png, jpeg and jpg)", ErrInvalidFormat, s)
}

type encoder struct {
	contentType string
	encode      func(buf *bytes.Buffer, img image.Image) error
}

var encoders = map[Format]encoder{
	PNG: {
		contentType: "image/png",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return png.Encode(buf, img)
		},
	},
	JPEG: {
		contentType: "image/jpeg",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return jpeg.Encode(buf, ToRGB(img), &jpeg.Options{Quality: JPEGQuality})
		},
	},
}

// Asset is an encoded image ready to be inlined or uploaded.
type Asset struct {
	Data        []byte
	ContentType string
	Key         string
	Format      Format
}

// Base64 is the standard base64 encoding of the asset bytes.
func (a Asset) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL renders the asset as a data URI.
func (a Asset) DataURL() string {
	return "data:" + a.ContentType + ";base64," + a.Base64()
}

// Encode encodes img in the requested format and assigns it a key from namer.
// A nil namer leaves the key empty.
func Encode(img image.Image, req Requested, namer *Namer) (Asset, error) {
	if img == nil {
		return Asset{}, errors.New("nil image")
	}
	enc, ok := encoders[req.Format]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrInvalidFormat, req.Format)
	}
	var buf bytes.Buffer
	if err := enc.encode(&buf, img); err != nil {
		return Asset{}, fmt.Errorf("failed to encode %s: %w", req.Format, err)
	}
	a := Asset{
		Data:        buf.Bytes(),
		ContentType: enc.contentType,
		Format:      req.Format,
	}
	if namer != nil {
		ext := req.Ext
		if ext == "" {
			ext = req.Format.String()
		}
		key, err := namer.Key(ext)
		if err != nil {
			return Asset{}, err
		}
		a.Key = key
	}
	return a, nil
}

// ToRGB drops the alpha channel of img, keeping the straight (unpremultiplied)
// color values. Images that are already opaque, or in a model JPEG encodes
// natively, are returned as is.
func ToRGB(img image.Image) image.Image {
	switch img.ColorModel() {
	case color.YCbCrModel, color.GrayModel, color.CMYKModel:
		return img
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	rgb := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			rgb.SetNRGBA(x, y, c)
		}
	}
	return rgb
}
