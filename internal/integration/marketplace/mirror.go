package marketplace

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"

	"github.com/timmy/conveyor/internal/integration"
	"github.com/timmy/conveyor/internal/storage"
)

const maxImageBytes = 20 << 20

// ImageMirror copies discovery images into our own bucket so listings do not hotlink the source.
type ImageMirror struct {
	http    *resty.Client
	store   storage.ObjectStorage
	minSide int
}

func NewImageMirror(store storage.ObjectStorage, minSide int, timeout time.Duration) *ImageMirror {
	return &ImageMirror{
		http:    resty.New().SetTimeout(timeout),
		store:   store,
		minSide: minSide,
	}
}

// Mirror downloads sourceURL, checks that it decodes and meets the minimum side, and uploads it
// under listings/<id>.<format>. An object already present is reused without downloading.
func (m *ImageMirror) Mirror(ctx context.Context, productID, sourceURL string) (string, error) {
	for _, format := range []string{"jpeg", "png", "webp", "gif"} {
		key := objectKey(productID, format)
		exists, err := m.store.Exists(ctx, key)
		if err != nil {
			return "", integration.ErrUnavailable{Err: err}
		}
		if exists {
			return m.store.URL(key), nil
		}
	}

	resp, err := m.http.R().SetContext(ctx).Get(sourceURL)
	if cerr := integration.Classify("image download", err, statusOf(resp), nil); cerr != nil {
		return "", cerr
	}
	data := resp.Body()
	if len(data) == 0 {
		return "", integration.Rejectf("image download: empty body from %s", sourceURL)
	}
	if len(data) > maxImageBytes {
		return "", integration.Rejectf("image download: %d bytes exceeds limit", len(data))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", integration.Rejectf("image decode: %v", err)
	}
	if m.minSide > 0 && (cfg.Width < m.minSide || cfg.Height < m.minSide) {
		return "", integration.Rejectf("image %dx%d is below the %dpx minimum side", cfg.Width, cfg.Height, m.minSide)
	}

	key := objectKey(productID, format)
	if err := m.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/"+format); err != nil {
		return "", integration.ErrUnavailable{Err: err}
	}
	return m.store.URL(key), nil
}

func objectKey(productID, format string) string {
	ext := format
	if format == "jpeg" {
		ext = "jpg"
	}
	return "listings/" + productID + "." + ext
}
