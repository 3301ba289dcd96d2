package use_case

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rashedsumon/instagram-teaser/internal/cache"
	"github.com/rashedsumon/instagram-teaser/internal/dataset"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
	"github.com/rashedsumon/instagram-teaser/internal/processor"
	"github.com/rashedsumon/instagram-teaser/internal/queue"
	"github.com/rashedsumon/instagram-teaser/internal/transport/handler"
)

// Status snapshots are cached briefly so polling clients do not hit
// Postgres on every tick.
const statusCacheTTLSeconds = 3

type Storage interface {
	InsertTeaser(ctx context.Context, t entities.Teaser) (entities.Teaser, error)
	GetTeaser(ctx context.Context, id string) (entities.Teaser, error)
	ListRecent(ctx context.Context, limit int) ([]entities.Teaser, error)
	MarkFailed(ctx context.Context, id, message string) error
}

type ShareStore interface {
	Create(ctx context.Context, outputKey string, ttl int) (string, error)
	Resolve(ctx context.Context, hash string) (string, error)
}

type R2Storage interface {
	UploadWithHook(ctx context.Context, key string, ext string, payload []byte, onSuccess func(), onFailure func(error)) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type DatasetLoader interface {
	Download(ctx context.Context, ref string) (dataset.Result, error)
}

type useCase struct {
	storage     Storage
	shares      ShareStore
	r2Storage   R2Storage
	wqueue      *queue.Producer
	statusCache *cache.Cache
	datasets    DatasetLoader
	shareTTL    int
}

func New(storage Storage, shares ShareStore, r2Storage R2Storage, wqueue *queue.Producer,
	statusCache *cache.Cache, datasets DatasetLoader, shareTTLSeconds int) *useCase {
	return &useCase{
		storage:     storage,
		shares:      shares,
		r2Storage:   r2Storage,
		wqueue:      wqueue,
		statusCache: statusCache,
		datasets:    datasets,
		shareTTL:    shareTTLSeconds,
	}
}

// CreateTeaser prepares the render frames, stages every asset to object
// storage and inserts the queued record. The render job is enqueued from the
// upload hook of the last asset so the worker never sees missing frames.
func (c *useCase) CreateTeaser(ctx context.Context, images []handler.ImageUpload, music *handler.MusicUpload, params handler.CreateTeaserParams) (entities.Teaser, error) {
	id := uuid.NewString()

	frames, err := prepareFrames(images, params.BrandColor)
	if err != nil {
		return entities.Teaser{}, err
	}

	teaser := entities.Teaser{
		ID:              id,
		Script:          params.Script,
		OverlayText:     params.OverlayText,
		BrandColor:      params.BrandColor,
		FontSize:        params.FontSize,
		DurationSeconds: params.Duration,
		FPS:             params.FPS,
		Mode:            entities.GenerationMode(params.Mode),
		Status:          entities.StatusQueued,
	}

	var musicData []byte
	var musicKey string
	if music != nil {
		musicData, err = io.ReadAll(music.Reader)
		if err != nil {
			return entities.Teaser{}, fmt.Errorf("read music upload: %w", err)
		}
		musicKey = fmt.Sprintf("music/%s%s", id, music.Ext)
		teaser.MusicKey = &musicKey
	}

	for i := range frames {
		teaser.FrameKeys = append(teaser.FrameKeys, fmt.Sprintf("frames/%s_%02d.jpg", id, i))
	}

	teaser, err = c.storage.InsertTeaser(ctx, teaser)
	if err != nil {
		return entities.Teaser{}, err
	}

	// The request context dies with the response; staging uploads and the
	// enqueue hook must outlive it.
	bg := context.Background()

	uploads := len(frames)
	if musicData != nil {
		uploads++
	}
	var pending atomic.Int32
	pending.Store(int32(uploads))
	onStaged := func() {
		if pending.Add(-1) == 0 {
			_ = c.wqueue.EnqueueRender(bg, queue.RenderJob{TeaserID: id})
		}
	}

	// A dropped staging upload would strand the row in "queued" with the
	// render job never enqueued; the first failure settles the teaser as
	// failed so polling clients see a terminal status.
	var failOnce sync.Once
	onFailed := func(cause error) {
		failOnce.Do(func() {
			_ = c.storage.MarkFailed(bg, id, fmt.Sprintf("stage upload: %v", cause))
			_ = c.statusCache.Remove(bg, id)
		})
	}

	for i, frame := range frames {
		if err := c.r2Storage.UploadWithHook(bg, teaser.FrameKeys[i], "image/jpeg", frame, onStaged, onFailed); err != nil {
			onFailed(err)
			return entities.Teaser{}, fmt.Errorf("stage frame %d: %w", i, err)
		}
	}
	if musicData != nil {
		contentType := "audio/mpeg"
		if music.Ext == ".wav" {
			contentType = "audio/wav"
		}
		if err := c.r2Storage.UploadWithHook(bg, musicKey, contentType, musicData, onStaged, onFailed); err != nil {
			onFailed(err)
			return entities.Teaser{}, fmt.Errorf("stage music: %w", err)
		}
	}

	return teaser, nil
}

// prepareFrames cover-resizes each reference image for the portrait target.
// With no images at all a solid brand-color frame is used, matching the
// placeholder behavior of the UI.
func prepareFrames(images []handler.ImageUpload, brandColor string) ([][]byte, error) {
	if len(images) == 0 {
		imgp, err := processor.PlaceholderFrame(brandColor, entities.TargetWidth, entities.TargetHeight)
		if err != nil {
			return nil, err
		}
		data, err := imgp.GetJPEG()
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}

	frames := make([][]byte, 0, len(images))
	for i, img := range images {
		imgp := &processor.ImageProcessor{}
		b, err := io.ReadAll(img.Reader)
		if err != nil {
			return nil, fmt.Errorf("read image %d: %w", i, err)
		}
		if err := imgp.Load(bytes.NewReader(b), img.Ext); err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		imgp.CoverResize(entities.TargetWidth, entities.TargetHeight)
		data, err := imgp.GetJPEG()
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// GetTeaser returns the current record, serving brief cache hits while the
// render is being polled.
func (c *useCase) GetTeaser(ctx context.Context, id string) (entities.Teaser, error) {
	if cached, err := c.statusCache.Get(ctx, id); err == nil && cached != "" {
		var t entities.Teaser
		if jsonErr := json.Unmarshal([]byte(cached), &t); jsonErr == nil {
			return t, nil
		}
	}

	t, err := c.storage.GetTeaser(ctx, id)
	if err != nil {
		return entities.Teaser{}, err
	}

	if raw, err := json.Marshal(t); err == nil {
		_ = c.statusCache.Store(ctx, id, statusCacheTTLSeconds, string(raw))
	}
	return t, nil
}

func (c *useCase) ListTeasers(ctx context.Context, limit int) ([]entities.Teaser, error) {
	return c.storage.ListRecent(ctx, limit)
}

// ShareTeaser mints a share hash for a finished render.
func (c *useCase) ShareTeaser(ctx context.Context, id string) (string, error) {
	t, err := c.storage.GetTeaser(ctx, id)
	if err != nil {
		return "", err
	}
	if t.Status != entities.StatusReady || t.OutputKey == nil {
		return "", entities.ErrNotReady
	}
	return c.shares.Create(ctx, *t.OutputKey, c.shareTTL)
}

// ResolveShare maps a share hash to a time-limited download URL.
func (c *useCase) ResolveShare(ctx context.Context, hash string) (string, error) {
	key, err := c.shares.Resolve(ctx, hash)
	if err != nil {
		return "", err
	}
	return c.r2Storage.PresignGet(ctx, key, 15*time.Minute)
}

func (c *useCase) DownloadDataset(ctx context.Context, ref string) (dataset.Result, error) {
	return c.datasets.Download(ctx, ref)
}
