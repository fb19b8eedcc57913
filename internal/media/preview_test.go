package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewPreviewImage(t *testing.T) {
	data := pngBytes(t, 640, 480)

	p, err := NewPreview("photo.png", "image/png", data)
	require.NoError(t, err)
	assert.Equal(t, KindImage, p.Kind)
	assert.Equal(t, 640, p.Width)
	assert.Equal(t, 480, p.Height)
	assert.Equal(t, int64(len(data)), p.Size())

	thumb, err := png.Decode(bytes.NewReader(p.Thumbnail))
	require.NoError(t, err)
	assert.LessOrEqual(t, thumb.Bounds().Dx(), thumbnailWidth)
	assert.LessOrEqual(t, thumb.Bounds().Dy(), thumbnailHeight)
}

func TestNewPreviewDetectsContentType(t *testing.T) {
	p, err := NewPreview("photo", "", pngBytes(t, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.ContentType)
	assert.Equal(t, KindImage, p.Kind)
}

func TestNewPreviewPDF(t *testing.T) {
	data := []byte("%PDF-1.4\n%fake\n")
	p, err := NewPreview("offer.pdf", "application/pdf", data)
	require.NoError(t, err)
	assert.Equal(t, KindDocument, p.Kind)
	assert.Empty(t, p.Thumbnail)
	assert.Equal(t, data, p.Data)
}

func TestNewPreviewRejects(t *testing.T) {
	_, err := NewPreview("notes.txt", "text/plain", []byte("hello"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia)

	_, err = NewPreview("broken.png", "image/png", []byte("not an image"))
	assert.Error(t, err)

	_, err = NewPreview("empty.pdf", "application/pdf", nil)
	assert.Error(t, err)
}
