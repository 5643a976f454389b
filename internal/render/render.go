// Package render talks to the external typesetting renderer that turns goal
// markup into the raster image submissions are compared against.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrRender = errors.New("render failed")

type Renderer interface {
	Render(ctx context.Context, markup string) (image.Image, error)
}

// HTTP posts {"latex": markup} to URL and expects a PNG body back.
type HTTP struct {
	URL    string
	Client *http.Client
	// MaxBytes caps the response size.
	MaxBytes int64
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		URL:      url,
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: 4 << 20,
	}
}

func (h *HTTP) Render(ctx context.Context, markup string) (image.Image, error) {
	body, err := json.Marshal(struct {
		Latex string `json:"latex"`
	}{Latex: markup})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: renderer returned %s", ErrRender, resp.Status)
	}

	limit := h.MaxBytes
	if limit <= 0 {
		limit = 4 << 20
	}
	img, err := png.Decode(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: decode png: %v", ErrRender, err)
	}
	return img, nil
}

// Cache memoizes renders by markup. Concurrent misses for the same markup,
// possibly from different lobbies, share one upstream call.
type Cache struct {
	next  Renderer
	limit int

	mu    sync.Mutex
	items map[string]image.Image
	order []string

	group singleflight.Group
}

func NewCache(next Renderer, limit int) *Cache {
	if limit <= 0 {
		limit = 256
	}
	return &Cache{next: next, limit: limit, items: map[string]image.Image{}}
}

func (c *Cache) Render(ctx context.Context, markup string) (image.Image, error) {
	if img, ok := c.get(markup); ok {
		return img, nil
	}

	v, err, _ := c.group.Do(markup, func() (any, error) {
		if img, ok := c.get(markup); ok {
			return img, nil
		}
		img, err := c.next.Render(ctx, markup)
		if err != nil {
			return nil, err
		}
		c.put(markup, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) get(markup string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.items[markup]
	return img, ok
}

// put evicts the oldest entry once the cache is full.
func (c *Cache) put(markup string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[markup]; ok {
		return
	}
	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[markup] = img
	c.order = append(c.order, markup)
}
