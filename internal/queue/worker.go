package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rashedsumon/instagram-teaser/internal/config"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
	"github.com/rashedsumon/instagram-teaser/internal/processor"
	"github.com/rashedsumon/instagram-teaser/internal/provider"
)

type Storage interface {
	Download(ctx context.Context, key string) ([]byte, string, error)
	UploadWithHook(ctx context.Context, key, contentType string, payload []byte, onSuccess func(), onFailure func(error)) error
}

type TeaserRepository interface {
	GetTeaser(ctx context.Context, id string) (entities.Teaser, error)
	MarkRendering(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, progress int) error
	MarkReady(ctx context.Context, id, outputKey string) error
	MarkFailed(ctx context.Context, id, message string) error
}

type StatusCache interface {
	Remove(ctx context.Context, key string) error
}

// Worker consumes render jobs from the stream, stages assets into a temp
// workspace, renders through the selected provider and uploads the MP4.
type Worker struct {
	rc        redis.UniversalClient
	cfg       config.RenderWorkerConfig
	storage   Storage
	repo      TeaserRepository
	providers provider.Registry
	cache     StatusCache
	outputDir string
	logger    *zap.Logger
}

func Init(ctx context.Context, rc redis.UniversalClient, cfg config.RenderWorkerConfig,
	storage Storage, repo TeaserRepository, providers provider.Registry,
	cache StatusCache, outputDir string, logger *zap.Logger) *Producer {

	producer := NewProducer(rc, cfg.Stream, cfg.MaxLen)
	worker := NewWorker(rc, cfg, storage, repo, providers, cache, outputDir, logger)

	go func() {
		if err := worker.Start(ctx); err != nil {
			logger.Warn("render worker stopped", zap.Error(err))
		}
	}()

	return producer
}

func NewWorker(rc redis.UniversalClient, cfg config.RenderWorkerConfig,
	storage Storage, repo TeaserRepository, providers provider.Registry,
	cache StatusCache, outputDir string, logger *zap.Logger) *Worker {
	return &Worker{
		rc:        rc,
		cfg:       cfg,
		storage:   storage,
		repo:      repo,
		providers: providers,
		cache:     cache,
		outputDir: outputDir,
		logger:    logger,
	}
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.rc.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	w.logger.Info("render worker starting",
		zap.String("group", w.cfg.Group),
		zap.String("stream", w.cfg.Stream),
		zap.Int("workers", w.cfg.Workers),
	)

	// Adopt orphaned pending messages
	w.autoClaim(ctx)

	errCh := make(chan error, w.cfg.Workers)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		go func() {
			err := w.loop(ctx)
			if err != nil {
				w.logger.Warn("render worker loop stopped", zap.Int("worker", id), zap.Error(err))
			}
			errCh <- err
		}()
	}

	select {
	case <-ctx.Done():
		w.logger.Info("context canceled, stopping render workers")
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker loop exited with error: %w", err)
		}
		return nil
	}
}

// autoClaim scans the consumer group for messages that were delivered to
// other consumers but never acknowledged (worker crashed before XACK).
// XAUTOCLAIM takes ownership of those idle messages so renders are not lost
// across restarts.
func (w *Worker) autoClaim(ctx context.Context) {
	next := "0-0"

	// A message must have been idle long enough that we do not steal work
	// from a slow-but-alive consumer.
	minIdle := 30 * time.Second
	if w.cfg.BlockTimeout > 0 {
		t := w.cfg.BlockTimeout * 6
		if t > minIdle {
			minIdle = t
		}
	}

	for {
		msgs, start, err := w.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		next = start
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		// XREADGROUP marks returned messages pending for this consumer;
		// they stay in the group's PEL until handle() XACKs them, so a
		// crash mid-render leaves the job claimable by autoClaim.
		streams, err := w.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				_ = w.handle(ctx, m)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, m redis.XMessage) error {
	defer w.rc.XAck(ctx, w.cfg.Stream, w.cfg.Group, m.ID).Err()

	raw, ok := m.Values["payload"].(string)
	if !ok {
		sentry.CaptureMessage(fmt.Sprintf("render job %s carries no payload", m.ID))
		return nil
	}
	var job RenderJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		sentry.CaptureException(fmt.Errorf("decode render job %s: %w", m.ID, err))
		return nil
	}
	attempt := toInt(m.Values["attempt"])

	err := w.process(ctx, job)
	if err == nil {
		return nil
	}

	// A backend that is not configured will not heal on retry.
	permanent := errors.Is(err, provider.ErrNotConfigured)
	if permanent || attempt+1 >= w.cfg.MaxAttempts {
		sentry.CaptureException(fmt.Errorf("render job %s dropped: %w", job.TeaserID, err))
		w.markFailed(ctx, job.TeaserID, err)
		return nil
	}

	// simple exponential backoff requeue
	backoff := w.cfg.BackoffBase << attempt
	time.AfterFunc(backoff, func() {
		_ = w.rc.XAdd(context.Background(), &redis.XAddArgs{
			Stream: w.cfg.Stream,
			MaxLen: w.cfg.MaxLen,
			Values: map[string]any{
				"payload": raw,
				"attempt": attempt + 1,
			},
		}).Err()
	})
	return err
}

func (w *Worker) process(ctx context.Context, job RenderJob) error {
	teaser, err := w.repo.GetTeaser(ctx, job.TeaserID)
	if err != nil {
		return fmt.Errorf("load teaser %s: %w", job.TeaserID, err)
	}

	gen, ok := w.providers.Get(string(teaser.Mode))
	if !ok {
		return fmt.Errorf("unknown generation mode %q: %w", teaser.Mode, provider.ErrNotConfigured)
	}

	if err := w.repo.MarkRendering(ctx, teaser.ID); err != nil {
		return fmt.Errorf("mark rendering %s: %w", teaser.ID, err)
	}
	w.invalidateStatus(ctx, teaser.ID)

	workspace, err := os.MkdirTemp("", "teaser-"+teaser.ID+"-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workspace)

	spec, err := w.stage(ctx, teaser, workspace)
	if err != nil {
		return fmt.Errorf("stage assets for %s: %w", teaser.ID, err)
	}

	w.logger.Info("render started",
		zap.String("teaser", teaser.ID),
		zap.String("mode", string(teaser.Mode)),
		zap.Int("frames", len(spec.FramePaths)),
	)

	err = gen.Generate(ctx, spec, func(progress int) {
		_ = w.repo.SetProgress(context.Background(), teaser.ID, progress)
		w.invalidateStatus(context.Background(), teaser.ID)
	})
	if err != nil {
		return fmt.Errorf("generate %s: %w", teaser.ID, err)
	}

	data, err := os.ReadFile(spec.OutputPath)
	if err != nil {
		return fmt.Errorf("read rendered file: %w", err)
	}

	outputKey := "teasers/" + teaser.ID + ".mp4"
	if err := w.storage.UploadWithHook(ctx, outputKey, "video/mp4", data, nil, nil); err != nil {
		return fmt.Errorf("upload %s: %w", outputKey, err)
	}

	// Poster for link previews, derived from the first staged frame. A failed
	// poster never fails the render.
	if len(spec.FramePaths) > 0 {
		if poster, err := posterFrame(spec.FramePaths[0]); err != nil {
			w.logger.Warn("poster encode failed", zap.String("teaser", teaser.ID), zap.Error(err))
		} else if err := w.storage.UploadWithHook(ctx, "teasers/"+teaser.ID+".webp", "image/webp", poster, nil, nil); err != nil {
			w.logger.Warn("poster upload failed", zap.String("teaser", teaser.ID), zap.Error(err))
		}
	}

	if err := w.repo.MarkReady(ctx, teaser.ID, outputKey); err != nil {
		return fmt.Errorf("mark ready %s: %w", teaser.ID, err)
	}
	w.invalidateStatus(ctx, teaser.ID)

	w.logger.Info("render finished", zap.String("teaser", teaser.ID), zap.String("output", outputKey))
	return nil
}

// stage downloads the teaser's staged frames (and music) into the workspace
// and builds the render spec for the provider.
func (w *Worker) stage(ctx context.Context, teaser entities.Teaser, workspace string) (entities.RenderSpec, error) {
	spec := entities.RenderSpec{
		TeaserID:        teaser.ID,
		Script:          teaser.Script,
		OverlayText:     teaser.OverlayText,
		BrandColor:      teaser.BrandColor,
		FontSize:        teaser.FontSize,
		DurationSeconds: teaser.DurationSeconds,
		FPS:             teaser.FPS,
		OutputPath:      filepath.Join(w.outputDir, teaser.ID+".mp4"),
	}

	for i, key := range teaser.FrameKeys {
		data, _, err := w.storage.Download(ctx, key)
		if err != nil {
			return spec, fmt.Errorf("download frame %s: %w", key, err)
		}
		path := filepath.Join(workspace, fmt.Sprintf("frame_%02d.jpg", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return spec, err
		}
		spec.FramePaths = append(spec.FramePaths, path)
	}

	if teaser.MusicKey != nil && *teaser.MusicKey != "" {
		data, _, err := w.storage.Download(ctx, *teaser.MusicKey)
		if err != nil {
			return spec, fmt.Errorf("download music %s: %w", *teaser.MusicKey, err)
		}
		path := filepath.Join(workspace, "music"+filepath.Ext(*teaser.MusicKey))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return spec, err
		}
		spec.MusicPath = path
	}

	return spec, nil
}

func posterFrame(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	imgp := &processor.ImageProcessor{}
	if err := imgp.LoadJPEG(f); err != nil {
		return nil, err
	}
	return imgp.GetWEBP()
}

func (w *Worker) markFailed(ctx context.Context, teaserID string, cause error) {
	if err := w.repo.MarkFailed(ctx, teaserID, cause.Error()); err != nil {
		w.logger.Error("mark failed", zap.String("teaser", teaserID), zap.Error(err))
		return
	}
	w.invalidateStatus(ctx, teaserID)
}

func (w *Worker) invalidateStatus(ctx context.Context, teaserID string) {
	if w.cache == nil {
		return
	}
	_ = w.cache.Remove(ctx, teaserID)
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var x int
		fmt.Sscanf(t, "%d", &x)
		return x
	default:
		return 0
	}
}
