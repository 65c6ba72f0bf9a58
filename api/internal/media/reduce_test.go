package media_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-proxy/api/internal/media"
)

// noisePNG returns a PNG of random pixels; it barely compresses, so its size is
// close to w*h*3 bytes.
func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(uint64(w), uint64(h)))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.UintN(256))
		img.Pix[i+1] = uint8(rng.UintN(256))
		img.Pix[i+2] = uint8(rng.UintN(256))
		img.Pix[i+3] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestReduce_FastPath(t *testing.T) {
	t.Run("Should return input unchanged when under the ceiling", func(t *testing.T) {
		data := solidPNG(t, 64, 48)
		out, err := media.Reduce(data, "image/png", media.DefaultCeilingBytes, 400, 300)
		require.NoError(t, err)
		assert.Equal(t, data, out.Data)
		assert.Equal(t, "image/png", out.MIMEType)
		assert.Zero(t, out.Meta.Steps)
		assert.False(t, out.Meta.Oversized)
		assert.Equal(t, len(data), out.Meta.OriginalSize)
		assert.Equal(t, len(data), out.Meta.FinalSize)
		assert.Equal(t, 64, out.Meta.Width)
		assert.Equal(t, 48, out.Meta.Height)
	})
	t.Run("Should treat size equal to the ceiling as fitting", func(t *testing.T) {
		data := solidPNG(t, 32, 32)
		out, err := media.Reduce(data, "", len(data), 400, 300)
		require.NoError(t, err)
		assert.Equal(t, data, out.Data)
		assert.Zero(t, out.Meta.Steps)
		assert.Equal(t, "image/png", out.MIMEType)
	})
}

func TestReduce_SlowPath(t *testing.T) {
	t.Run("Should respect the resolution floor and quality floor", func(t *testing.T) {
		data := noisePNG(t, 600, 600)
		out, err := media.Reduce(data, "image/png", 2000, 400, 300)
		require.NoError(t, err)
		assert.Equal(t, 400, out.Meta.Width)
		assert.Equal(t, 300, out.Meta.Height)
		assert.True(t, out.Meta.Oversized)
		assert.Equal(t, 4, out.Meta.Steps)
		assert.InDelta(t, 0.3, out.Meta.Quality, 1e-9)
		assert.Equal(t, "image/jpeg", out.MIMEType)
		assert.Equal(t, len(out.Data), out.Meta.FinalSize)

		img, format, err := image.Decode(bytes.NewReader(out.Data))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 400, img.Bounds().Dx())
		assert.Equal(t, 300, img.Bounds().Dy())
	})
	t.Run("Should be a no-op when re-run on a result that fits", func(t *testing.T) {
		data := noisePNG(t, 800, 800)
		out, err := media.Reduce(data, "image/png", media.DefaultCeilingBytes, 400, 300)
		require.NoError(t, err)
		require.False(t, out.Meta.Oversized)
		assert.GreaterOrEqual(t, out.Meta.Steps, 1)
		assert.LessOrEqual(t, out.Meta.FinalSize, media.DefaultCeilingBytes)

		again, err := media.Reduce(out.Data, out.MIMEType, media.DefaultCeilingBytes, 400, 300)
		require.NoError(t, err)
		assert.Equal(t, out.Data, again.Data)
		assert.Zero(t, again.Meta.Steps)
	})
	t.Run("Should keep dimensions above the floor for a 6 MiB original", func(t *testing.T) {
		data := noisePNG(t, 1500, 1450)
		require.Greater(t, len(data), 6<<20)
		out, err := media.Reduce(data, "image/png", 1<<20, 400, 300)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.Meta.Width, 400)
		assert.GreaterOrEqual(t, out.Meta.Height, 300)
		assert.GreaterOrEqual(t, out.Meta.Quality, 0.3)
		assert.LessOrEqual(t, out.Meta.Steps, 4)
		assert.Equal(t, out.Meta.Oversized, out.Meta.FinalSize > 1<<20)
	})
}

func TestReduce_DecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "text", data: []byte("definitely not an image")},
		{name: "truncated png", data: solidPNG(t, 16, 16)[:20]},
		{name: "png cut after its header", data: solidPNG(t, 64, 64)[:40]},
	}
	for _, tc := range cases {
		t.Run("Should fail with ErrDecode for "+tc.name, func(t *testing.T) {
			out, err := media.Reduce(tc.data, "image/png", 10, 400, 300)
			require.Error(t, err)
			assert.ErrorIs(t, err, media.ErrDecode)
			assert.Nil(t, out)
		})
	}
	for _, tc := range cases {
		t.Run("Should fail with ErrDecode under the ceiling for "+tc.name, func(t *testing.T) {
			out, err := media.Reduce(tc.data, "image/png", 1<<20, 400, 300)
			require.Error(t, err)
			assert.ErrorIs(t, err, media.ErrDecode)
			assert.Nil(t, out)
		})
	}
}

// resizedHeader rewrites the IHDR dimensions of a PNG, leaving the pixel data
// as it was.
func resizedHeader(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := bytes.Clone(data)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestReduce_DimensionLimits(t *testing.T) {
	small := solidPNG(t, 16, 16)

	t.Run("Should refuse a small file that declares a huge canvas", func(t *testing.T) {
		bomb := resizedHeader(t, small, 6000, 6000)
		require.Less(t, len(bomb), 1<<20)

		out, err := media.Reduce(bomb, "image/png", 1<<20, 400, 300)
		require.Error(t, err)
		assert.ErrorIs(t, err, media.ErrTooLarge)
		assert.ErrorIs(t, err, media.ErrDecode)
		assert.Nil(t, out)
	})
	t.Run("Should refuse a side over the maximum", func(t *testing.T) {
		out, err := media.Reduce(resizedHeader(t, small, 20000, 10), "image/png", 1<<20, 400, 300)
		assert.ErrorIs(t, err, media.ErrTooLarge)
		assert.Nil(t, out)
	})
	t.Run("Should apply configured limits", func(t *testing.T) {
		r := media.NewReducer(media.Limits{CeilingBytes: 1 << 20, MinWidth: 10, MinHeight: 10, MaxPixels: 100}, nil)
		_, err := r.Reduce(media.RawMedia{Data: small, MIMEType: "image/png"})
		assert.ErrorIs(t, err, media.ErrTooLarge)
	})
	t.Run("Should accept an image within the defaults", func(t *testing.T) {
		out, err := media.Reduce(small, "image/png", 1<<20, 400, 300)
		require.NoError(t, err)
		assert.Equal(t, small, out.Data)
	})
}

func TestTargetSize(t *testing.T) {
	lim := media.DefaultLimits()
	t.Run("Should scale by the square root of the byte ratio", func(t *testing.T) {
		w, h := media.TargetSize(4000, 3000, 4<<20, lim)
		assert.Equal(t, 2000, w)
		assert.Equal(t, 1500, h)
	})
	t.Run("Should apply the extra shrink above the large threshold", func(t *testing.T) {
		w, h := media.TargetSize(4000, 4000, 16<<20, lim)
		assert.InDelta(t, 700, w, 1)
		assert.InDelta(t, 700, h, 1)
	})
	t.Run("Should clamp up to the floor", func(t *testing.T) {
		w, h := media.TargetSize(500, 320, 100<<20, lim)
		assert.Equal(t, 400, w)
		assert.Equal(t, 300, h)
	})
}

func TestReducer_Recorder(t *testing.T) {
	rec := &countingRecorder{}
	r := media.NewReducer(media.Limits{CeilingBytes: 2000, MinWidth: 10, MinHeight: 10}, nil).WithRecorder(rec)
	_, err := r.Reduce(media.RawMedia{Data: noisePNG(t, 100, 100), MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.n)

	// fast path is observed too
	_, err = r.Reduce(media.RawMedia{Data: noisePNG(t, 4, 4), MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.n)
}

type countingRecorder struct{ n int }

func (c *countingRecorder) ObserveReduce(media.Meta) { c.n++ }
