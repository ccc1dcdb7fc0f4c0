package oracle

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/ditto-assistant/txt2img/pkg/genreq"
	"github.com/ditto-assistant/txt2img/pkg/models"
)

// Backend is what Lazy initializes and then delegates to.
type Backend interface {
	Load(ctx context.Context, model models.Family) error
	Generate(ctx context.Context, r genreq.Request) ([]image.Image, error)
}

// Lazy loads the model on the first Generate call. A failed load leaves
// it unready, so the next job tries again.
type Lazy struct {
	backend Backend
	model   models.Family

	mu    sync.Mutex
	ready bool
}

func NewLazy(backend Backend, model models.Family) *Lazy {
	return &Lazy{backend: backend, model: model}
}

// Ready reports whether the model has been loaded.
func (l *Lazy) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Init loads the model if it is not loaded yet.
func (l *Lazy) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	start := time.Now()
	if err := l.backend.Load(ctx, l.model); err != nil {
		return fmt.Errorf("failed to load %s: %w", l.model, err)
	}
	l.ready = true
	slog.Info("model loaded", "model", l.model, "duration", time.Since(start))
	return nil
}

func (l *Lazy) Generate(ctx context.Context, r genreq.Request) ([]image.Image, error) {
	if err := l.Init(ctx); err != nil {
		return nil, err
	}
	return l.backend.Generate(ctx, r)
}
