package provider

import (
	"context"

	"github.com/rashedsumon/instagram-teaser/internal/composer"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
)

// Local renders on this machine through the ffmpeg composer.
type Local struct {
	composer *composer.Composer
}

func NewLocal(c *composer.Composer) *Local {
	return &Local{composer: c}
}

func (l *Local) Name() string { return string(entities.ModeLocal) }

func (l *Local) Generate(ctx context.Context, spec entities.RenderSpec, onProgress func(int)) error {
	return l.composer.Render(ctx, spec, onProgress)
}
