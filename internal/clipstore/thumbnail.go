package clipstore

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bryanchriswhite/ShadowReplay/internal/clip"
)

const (
	ThumbnailWidth  = 160
	ThumbnailHeight = 90
)

// Thumbnailer renders and caches a small JPEG preview of each clip's first frame.
type Thumbnailer struct {
	store *Store
	cache *lru.Cache[string, []byte]
}

func NewThumbnailer(store *Store, size int) *Thumbnailer {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		// only returned for a non-positive size
		cache, _ = lru.New[string, []byte](1)
	}
	return &Thumbnailer{store: store, cache: cache}
}

// Get returns the JPEG thumbnail for clip id.
func (t *Thumbnailer) Get(id string) ([]byte, error) {
	if b, ok := t.cache.Get(id); ok {
		return b, nil
	}

	c, err := t.store.Open(id)
	if err != nil {
		return nil, err
	}
	b, err := Render(c)
	if err != nil {
		return nil, fmt.Errorf("thumbnail for %s: %w", id, err)
	}
	t.cache.Add(id, b)
	return b, nil
}

// Forget drops a cached thumbnail.
func (t *Thumbnailer) Forget(id string) {
	t.cache.Remove(id)
}

// Render scales the first frame of c to fit the thumbnail box.
func Render(c *clip.Clip) ([]byte, error) {
	if len(c.Frames) == 0 {
		return nil, clip.ErrEmptyInput
	}
	img, err := jpeg.Decode(bytes.NewReader(c.Frames[0].Payload()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode first frame: %w", err)
	}
	thumb := imaging.Fit(img, ThumbnailWidth, ThumbnailHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
