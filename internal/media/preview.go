// Package media holds attachment previews and the local copies of downloaded media.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

const (
	ContentTypePDF = "application/pdf"

	thumbnailWidth  = 320
	thumbnailHeight = 320
)

type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Preview is a selected file waiting for upload.
type Preview struct {
	Name        string
	ContentType string
	Kind        Kind
	Data        []byte
	// Thumbnail is a PNG for images and empty for documents.
	Thumbnail []byte
	Width     int
	Height    int
}

func (p *Preview) Size() int64 {
	return int64(len(p.Data))
}

// NewPreview validates the file type and renders a thumbnail for images. PDFs pass through.
func NewPreview(name, contentType string, data []byte) (*Preview, error) {
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	p := &Preview{
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		bounds := img.Bounds()
		p.Kind = KindImage
		p.Width = bounds.Dx()
		p.Height = bounds.Dy()

		thumb := imaging.Fit(img, thumbnailWidth, thumbnailHeight, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
			return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
		}
		p.Thumbnail = buf.Bytes()

	case contentType == ContentTypePDF:
		p.Kind = KindDocument

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, contentType)
	}
	return p, nil
}
