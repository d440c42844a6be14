package gallery

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "golang.org/x/image/webp"
)

// ImageState is the load state of a picture URL.
type ImageState int

const (
	ImagePending ImageState = iota
	ImageLoaded
	ImageFailed
)

// ImageStatus reports the load state of picture URLs.
type ImageStatus interface {
	Status(url string) ImageState
}

// Probe checks picture URLs in the background: a URL is loaded once, its
// header decoded, and the outcome cached. Status never blocks.
type Probe struct {
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	states map[string]ImageState
	wg     sync.WaitGroup
}

// NewProbe creates a probe. client may be nil.
func NewProbe(client *http.Client, logger *slog.Logger) *Probe {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		client:  client,
		logger:  logger,
		timeout: 15 * time.Second,
		states:  make(map[string]ImageState),
	}
}

// Status returns the cached state of url, starting a check the first time
// the URL is seen.
func (p *Probe) Status(url string) ImageState {
	if IsLocalBlobURL(url) {
		return ImageFailed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[url]; ok {
		return st
	}
	p.states[url] = ImagePending

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		st := ImageLoaded
		if err := p.check(url); err != nil {
			p.logger.Warn("Failed to load image texture", "url", url, "error", err)
			st = ImageFailed
		}
		p.mu.Lock()
		p.states[url] = st
		p.mu.Unlock()
	}()
	return ImagePending
}

// Forget drops the cached state of url so it is checked again.
func (p *Probe) Forget(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, url)
}

// Wait blocks until all started checks have finished.
func (p *Probe) Wait() {
	p.wg.Wait()
}

func (p *Probe) check(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if _, _, err := image.DecodeConfig(resp.Body); err != nil {
		return fmt.Errorf("not a decodable image: %w", err)
	}
	return nil
}
