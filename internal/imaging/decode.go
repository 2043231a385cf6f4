// Package imaging turns uploaded bytes into frames the detectors can read.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"runtime"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the payload cannot be interpreted as an image.
var ErrDecode = errors.New("could not decode the image")

// Decode converts encoded image bytes into a BGR frame. OpenCV's decoder is
// tried first; formats it does not read (GIF, and WebP/TIFF/BMP on builds
// without those codecs) fall back to the Go decoders.
// The caller is responsible for closing the returned Mat.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty payload", ErrDecode)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}

	mat, err = toBGR(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	return mat, nil
}

// toBGR copies an image.Image into a CV_8UC3 Mat in OpenCV channel order.
func toBGR(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), errors.New("zero-sized image")
	}

	data := make([]byte, 0, width*height*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			data = append(data, c.B, c.G, c.R)
		}
	}

	view, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer view.Close()

	// The view borrows data; clone so the Mat owns its pixels.
	mat := view.Clone()
	runtime.KeepAlive(data)
	return mat, nil
}

// EncodeJPEG encodes a frame as JPEG bytes.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory that Close releases.
	return bytes.Clone(buf.GetBytes()), nil
}
