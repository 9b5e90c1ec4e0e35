package jfif

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestEncodeThenGetImageRoundTrips(t *testing.T) {
	tx := NewSplitter(false)
	require.NoError(t, tx.Encode(testImage(), 75))

	assert.NotZero(t, tx.HeaderSize())
	assert.NotZero(t, tx.DataSize())

	rx := NewSplitter(false)
	rx.AddHeader(tx.Header(), true)
	rx.AddData(tx.Data())

	img, err := rx.GetImage()
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestGetImageBeforeHeaderCompleteReturnsNilWithoutError(t *testing.T) {
	rx := NewSplitter(false)
	rx.AddHeader([]byte{1, 2, 3}, false)

	img, err := rx.GetImage()
	assert.NoError(t, err)
	assert.Nil(t, img)
}

func TestGetImageOnGarbageReturnsNilWithoutError(t *testing.T) {
	rx := NewSplitter(false)
	rx.AddHeader([]byte{0xAA, 0xBB}, true)
	rx.AddData([]byte{0xCC, 0xDD})

	img, err := rx.GetImage()
	assert.NoError(t, err)
	assert.Nil(t, img)
}

func TestIncrementalAddDataRefinesImage(t *testing.T) {
	tx := NewSplitter(false)
	require.NoError(t, tx.Encode(testImage(), 50))

	rx := NewSplitter(false)
	rx.AddHeader(tx.Header(), true)

	// Feed the data segment incrementally; a decodable image should appear
	// at the latest once all data bytes have been added.
	data := tx.Data()
	mid := len(data) / 2
	rx.AddData(data[:mid])
	_, _ = rx.GetImage() // may or may not decode yet; must not error

	rx.AddData(data[mid:])
	img, err := rx.GetImage()
	require.NoError(t, err)
	require.NotNil(t, img)
}

func TestResetClearsSegments(t *testing.T) {
	s := NewSplitter(false)
	s.AddHeader([]byte{1, 2}, true)
	s.AddData([]byte{3, 4})
	s.Reset()

	assert.Zero(t, s.HeaderSize())
	assert.Zero(t, s.DataSize())
	img, err := s.GetImage()
	assert.NoError(t, err)
	assert.Nil(t, img)
}
