package nowplaying

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/keshon/melodeck/internal/metrics"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/sync/singleflight"
)

type RGB struct {
	R, G, B uint8
}

// Int packs the colour as 0xRRGGBB, the form chat embeds take.
func (c RGB) Int() int {
	return int(c.R)<<16 | int(c.G)<<8 | int(c.B)
}

type ArtworkFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type ColorSampler interface {
	DominantColor(data []byte) (RGB, error)
}

// ColorCache maps artwork references to sampled colours. Each session owns
// one; it is never shared across sessions.
type ColorCache struct {
	mu     sync.RWMutex
	colors map[string]RGB
	group  singleflight.Group
}

func NewColorCache() *ColorCache {
	return &ColorCache{colors: make(map[string]RGB)}
}

func (c *ColorCache) Get(ref string) (RGB, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.colors[ref]
	return v, ok
}

func (c *ColorCache) put(ref string, v RGB) {
	c.mu.Lock()
	c.colors[ref] = v
	c.mu.Unlock()
}

func (c *ColorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.colors)
}

// HTTPFetcher downloads artwork with a size cap.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 5 * time.Second}, MaxBytes: 4 << 20}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes))
}

// BucketSampler picks the most common coarse colour of an image and returns
// the average of the pixels in that bucket. Near-black and near-white pixels
// only count when nothing else is present.
type BucketSampler struct{}

type bucket struct {
	n       int
	r, g, b float64 // linear RGB sums
}

func (BucketSampler) DominantColor(data []byte) (RGB, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return RGB{}, fmt.Errorf("decode artwork: %w", err)
	}

	bounds := img.Bounds()
	step := max(1, max(bounds.Dx(), bounds.Dy())/64)

	vivid := make(map[uint16]*bucket)
	dull := make(map[uint16]*bucket)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue // fully transparent
			}
			r8, g8, b8 := c.RGB255()
			key := uint16(r8>>4)<<8 | uint16(g8>>4)<<4 | uint16(b8>>4)

			target := vivid
			hi, lo := max(r8, g8, b8), min(r8, g8, b8)
			if hi < 24 || lo > 232 {
				target = dull
			}
			bk, ok := target[key]
			if !ok {
				bk = &bucket{}
				target[key] = bk
			}
			lr, lg, lb := c.LinearRgb()
			bk.n++
			bk.r += lr
			bk.g += lg
			bk.b += lb
		}
	}

	pool := vivid
	if len(pool) == 0 {
		pool = dull
	}
	var best *bucket
	for _, bk := range pool {
		if best == nil || bk.n > best.n {
			best = bk
		}
	}
	if best == nil {
		return RGB{}, fmt.Errorf("artwork has no opaque pixels")
	}

	n := float64(best.n)
	avg := colorful.LinearRgb(best.r/n, best.g/n, best.b/n).Clamped()
	r, g, b := avg.RGB255()
	return RGB{R: r, G: g, B: b}, nil
}

// DominantColor returns the cached colour for artworkRef, sampling it on a
// miss. Concurrent misses for the same reference share one fetch. Failures
// yield black and are not cached.
func (p *Presenter) DominantColor(ctx context.Context, cache *ColorCache, artworkRef string) RGB {
	if artworkRef == "" || cache == nil {
		return RGB{}
	}
	if v, ok := cache.Get(artworkRef); ok {
		metrics.ColorCache.WithLabelValues("hit").Inc()
		return v
	}

	v, err, _ := cache.group.Do(artworkRef, func() (any, error) {
		if v, ok := cache.Get(artworkRef); ok {
			return v, nil
		}
		data, err := p.fetcher.Fetch(ctx, artworkRef)
		if err != nil {
			return RGB{}, err
		}
		rgb, err := p.sampler.DominantColor(data)
		if err != nil {
			return RGB{}, err
		}
		cache.put(artworkRef, rgb)
		return rgb, nil
	})
	if err != nil {
		metrics.ColorCache.WithLabelValues("error").Inc()
		p.log.Debug().Err(err).Str("artwork", artworkRef).Msg("dominant colour unavailable")
		return RGB{}
	}
	metrics.ColorCache.WithLabelValues("miss").Inc()
	return v.(RGB)
}
