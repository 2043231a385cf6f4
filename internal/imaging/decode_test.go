package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 10, A: 255})
		}
	}
	return img
}

func TestDecode_Formats(t *testing.T) {
	img := testImage(32, 24)

	var jpg, pngBuf, gifBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, img, &jpeg.Options{Quality: 90}))
	require.NoError(t, png.Encode(&pngBuf, img))
	require.NoError(t, gif.Encode(&gifBuf, img, nil))

	tests := []struct {
		name string
		data []byte
	}{
		{"jpeg", jpg.Bytes()},
		{"png", pngBuf.Bytes()},
		{"gif", gifBuf.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat, err := Decode(tt.data)
			require.NoError(t, err)
			defer mat.Close()

			assert.Equal(t, 32, mat.Cols())
			assert.Equal(t, 24, mat.Rows())
			assert.Equal(t, 3, mat.Channels())
		})
	}
}

func TestDecode_GIFChannelOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, testImage(4, 4), nil))

	mat, err := Decode(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	v := mat.GetVecbAt(0, 0)
	assert.Greater(t, int(v[2]), int(v[0]), "red channel should be last in BGR order")
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"garbage", []byte("definitely not an image")},
		{"truncated jpeg header", []byte{0xff, 0xd8, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat, err := Decode(tt.data)
			defer mat.Close()

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}
}

func TestEncodeJPEG_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(16, 16)))

	mat, err := Decode(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	data, err := EncodeJPEG(mat)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 16, cfg.Width)
}
