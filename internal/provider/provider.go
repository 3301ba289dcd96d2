package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rashedsumon/instagram-teaser/internal/entities"
)

// ErrNotConfigured is returned by backends that need credentials or an
// endpoint that the deployment does not carry.
var ErrNotConfigured = errors.New("generation backend is not configured")

// Provider is a generation backend: given a render spec it must leave the
// finished MP4 at spec.OutputPath. Implementations report whole-percent
// progress through onProgress when they can.
type Provider interface {
	Name() string
	Generate(ctx context.Context, spec entities.RenderSpec, onProgress func(int)) error
}

// Registry indexes providers by mode name. The set is tiny, a map lookup
// keeps mode dispatch trivial.
type Registry struct {
	byName map[string]Provider
}

func NewRegistry(providers ...Provider) (Registry, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("nil provider")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("provider name is empty")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("duplicate provider: %q", name)
		}
		byName[name] = p
	}
	return Registry{byName: byName}, nil
}

func (r Registry) Get(name string) (Provider, bool) {
	if r.byName == nil {
		return nil, false
	}
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
