package imgenc

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultKeyPrefix = "gen-images"
	shortIDLength    = 10
)

// Namer builds storage keys of the form
// {prefix}/{month}/{day}/{short id}/{uuid}.{ext}, for example
// gen-images/7/14/aB3dK9xQ2z/3fa85f64-5717-4562-b3fc-2c963f66afa6.png.
type Namer struct {
	Prefix string
	// Now defaults to time.Now.
	Now func() time.Time
	// ShortID defaults to a 10 character nanoid.
	ShortID func() (string, error)
	// UUID defaults to a random v4 UUID.
	UUID func() string
}

// NewNamer returns a Namer using prefix and the default generators.
func NewNamer(prefix string) *Namer {
	return &Namer{Prefix: prefix}
}

// Key returns a fresh key ending in ext.
func (n *Namer) Key(ext string) (string, error) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	shortID := func() (string, error) { return gonanoid.New(shortIDLength) }
	if n.ShortID != nil {
		shortID = n.ShortID
	}
	newUUID := uuid.NewString
	if n.UUID != nil {
		newUUID = n.UUID
	}
	id, err := shortID()
	if err != nil {
		return "", fmt.Errorf("failed to generate short id: %w", err)
	}
	prefix := strings.Trim(n.Prefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	t := now()
	file := newUUID() + "." + strings.TrimPrefix(ext, ".")
	return path.Join(prefix, fmt.Sprint(int(t.Month())), fmt.Sprint(t.Day()), id, file), nil
}
