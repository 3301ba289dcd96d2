package use_case

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rashedsumon/instagram-teaser/internal/cache"
	"github.com/rashedsumon/instagram-teaser/internal/dataset"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
	"github.com/rashedsumon/instagram-teaser/internal/queue"
	"github.com/rashedsumon/instagram-teaser/internal/transport/handler"
)

type fakeStorage struct {
	mu       sync.Mutex
	teasers  map[string]entities.Teaser
	getCalls int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{teasers: map[string]entities.Teaser{}}
}

func (f *fakeStorage) InsertTeaser(ctx context.Context, t entities.Teaser) (entities.Teaser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.CreatedTimestamp = time.Now()
	t.UpdatedTimestamp = t.CreatedTimestamp
	f.teasers[t.ID] = t
	return t, nil
}

func (f *fakeStorage) GetTeaser(ctx context.Context, id string) (entities.Teaser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	t, ok := f.teasers[id]
	if !ok {
		return entities.Teaser{}, fmt.Errorf("teaser %s not found", id)
	}
	return t, nil
}

func (f *fakeStorage) MarkFailed(ctx context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.teasers[id]
	if !ok {
		return fmt.Errorf("teaser %s not found", id)
	}
	t.Status = entities.StatusFailed
	t.Error = &message
	f.teasers[id] = t
	return nil
}

func (f *fakeStorage) ListRecent(ctx context.Context, limit int) ([]entities.Teaser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.Teaser, 0, len(f.teasers))
	for _, t := range f.teasers {
		out = append(out, t)
	}
	return out, nil
}

type fakeShares struct {
	mu     sync.Mutex
	links  map[string]string
	nextID int
}

func newFakeShares() *fakeShares {
	return &fakeShares{links: map[string]string{}}
}

func (f *fakeShares) Create(ctx context.Context, outputKey string, ttl int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	hash := fmt.Sprintf("hash-%d", f.nextID)
	f.links[hash] = outputKey
	return hash, nil
}

func (f *fakeShares) Resolve(ctx context.Context, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.links[hash]
	if !ok {
		return "", fmt.Errorf("hash %s not found", hash)
	}
	return key, nil
}

type fakeR2 struct {
	mu      sync.Mutex
	objects map[string][]byte
	dropErr error // when set, every upload is dropped by the pool
}

func newFakeR2() *fakeR2 {
	return &fakeR2{objects: map[string][]byte{}}
}

func (f *fakeR2) UploadWithHook(ctx context.Context, key, contentType string, payload []byte, onSuccess func(), onFailure func(error)) error {
	if f.dropErr != nil {
		if onFailure != nil {
			onFailure(f.dropErr)
		}
		return nil
	}
	f.mu.Lock()
	f.objects[key] = payload
	f.mu.Unlock()
	if onSuccess != nil {
		onSuccess()
	}
	return nil
}

func (f *fakeR2) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://r2.example.com/" + key + "?sig=test", nil
}

type fakeDatasets struct {
	gotRef string
}

func (f *fakeDatasets) Download(ctx context.Context, ref string) (dataset.Result, error) {
	f.gotRef = ref
	return dataset.Result{Ref: ref, Path: "/data/" + ref, FileCount: 3}, nil
}

type fixture struct {
	uc       *useCase
	storage  *fakeStorage
	shares   *fakeShares
	r2       *fakeR2
	datasets *fakeDatasets
	rc       *redis.Client
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	f := &fixture{
		storage:  newFakeStorage(),
		shares:   newFakeShares(),
		r2:       newFakeR2(),
		datasets: &fakeDatasets{},
		rc:       rc,
	}
	f.uc = New(
		f.storage,
		f.shares,
		f.r2,
		queue.NewProducer(rc, "test:render", 128),
		cache.NewCache("teaser:status", rc),
		f.datasets,
		3600,
	)
	return f
}

func pngUpload(t *testing.T) handler.ImageUpload {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{B: 0xff, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return handler.ImageUpload{Reader: &buf, Ext: ".png"}
}

func validParams() handler.CreateTeaserParams {
	return handler.CreateTeaserParams{
		Script:      "neon skyline at dusk",
		OverlayText: "Launch Friday",
		BrandColor:  "#FF6B6B",
		FontSize:    96,
		Duration:    7,
		FPS:         24,
		Mode:        "local",
	}
}

func pendingJobs(t *testing.T, rc *redis.Client) []redis.XMessage {
	t.Helper()
	msgs, err := rc.XRange(context.Background(), "test:render", "-", "+").Result()
	require.NoError(t, err)
	return msgs
}

func TestCreateTeaserStagesFramesAndEnqueues(t *testing.T) {
	f := setup(t)

	teaser, err := f.uc.CreateTeaser(context.Background(),
		[]handler.ImageUpload{pngUpload(t), pngUpload(t)}, nil, validParams())
	require.NoError(t, err)

	assert.Equal(t, entities.StatusQueued, teaser.Status)
	require.Len(t, teaser.FrameKeys, 2)
	assert.Equal(t, "frames/"+teaser.ID+"_00.jpg", teaser.FrameKeys[0])
	assert.Equal(t, "frames/"+teaser.ID+"_01.jpg", teaser.FrameKeys[1])
	assert.Nil(t, teaser.MusicKey)

	// Both frames staged to object storage.
	assert.Len(t, f.r2.objects, 2)
	assert.NotEmpty(t, f.r2.objects[teaser.FrameKeys[0]])

	// Exactly one render job, enqueued only after the last upload landed.
	assert.Len(t, pendingJobs(t, f.rc), 1)
}

func TestCreateTeaserWithoutImagesUsesPlaceholder(t *testing.T) {
	f := setup(t)

	teaser, err := f.uc.CreateTeaser(context.Background(), nil, nil, validParams())
	require.NoError(t, err)

	require.Len(t, teaser.FrameKeys, 1)
	assert.NotEmpty(t, f.r2.objects[teaser.FrameKeys[0]])
	assert.Len(t, pendingJobs(t, f.rc), 1)
}

func TestCreateTeaserWithMusic(t *testing.T) {
	f := setup(t)

	music := &handler.MusicUpload{Reader: bytes.NewReader([]byte("mp3-bytes")), Ext: ".mp3"}
	teaser, err := f.uc.CreateTeaser(context.Background(), []handler.ImageUpload{pngUpload(t)}, music, validParams())
	require.NoError(t, err)

	require.NotNil(t, teaser.MusicKey)
	assert.Equal(t, "music/"+teaser.ID+".mp3", *teaser.MusicKey)
	assert.Equal(t, []byte("mp3-bytes"), f.r2.objects[*teaser.MusicKey])
	assert.Len(t, pendingJobs(t, f.rc), 1)
}

func TestCreateTeaserBadPlaceholderColor(t *testing.T) {
	f := setup(t)

	params := validParams()
	params.BrandColor = "tomato"

	_, err := f.uc.CreateTeaser(context.Background(), nil, nil, params)
	require.Error(t, err)
	assert.Empty(t, pendingJobs(t, f.rc))
}

func TestCreateTeaserDroppedUploadMarksFailed(t *testing.T) {
	f := setup(t)
	f.r2.dropErr = errors.New("upload pool gave up")

	// The drop fires asynchronously in production; the create itself succeeds.
	teaser, err := f.uc.CreateTeaser(context.Background(), nil, nil, validParams())
	require.NoError(t, err)

	got := f.storage.teasers[teaser.ID]
	assert.Equal(t, entities.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "upload pool gave up")

	// No render job may reach the worker: the frames never landed.
	assert.Empty(t, pendingJobs(t, f.rc))
}

func TestGetTeaserServesCacheWhilePolling(t *testing.T) {
	f := setup(t)

	teaser, err := f.uc.CreateTeaser(context.Background(), nil, nil, validParams())
	require.NoError(t, err)
	baseline := f.storage.getCalls

	got, err := f.uc.GetTeaser(context.Background(), teaser.ID)
	require.NoError(t, err)
	assert.Equal(t, teaser.ID, got.ID)
	assert.Equal(t, baseline+1, f.storage.getCalls)

	// Second poll within the TTL is a cache hit.
	got, err = f.uc.GetTeaser(context.Background(), teaser.ID)
	require.NoError(t, err)
	assert.Equal(t, teaser.ID, got.ID)
	assert.Equal(t, baseline+1, f.storage.getCalls)
}

func TestShareTeaserNotReady(t *testing.T) {
	f := setup(t)

	teaser, err := f.uc.CreateTeaser(context.Background(), nil, nil, validParams())
	require.NoError(t, err)

	_, err = f.uc.ShareTeaser(context.Background(), teaser.ID)
	assert.ErrorIs(t, err, entities.ErrNotReady)
}

func TestShareAndResolve(t *testing.T) {
	f := setup(t)

	teaser, err := f.uc.CreateTeaser(context.Background(), nil, nil, validParams())
	require.NoError(t, err)

	outputKey := "teasers/" + teaser.ID + ".mp4"
	stored := f.storage.teasers[teaser.ID]
	stored.Status = entities.StatusReady
	stored.OutputKey = &outputKey
	f.storage.teasers[teaser.ID] = stored

	hash, err := f.uc.ShareTeaser(context.Background(), teaser.ID)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	url, err := f.uc.ResolveShare(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "https://r2.example.com/"+outputKey+"?sig=test", url)
}

func TestDownloadDatasetDelegates(t *testing.T) {
	f := setup(t)

	res, err := f.uc.DownloadDataset(context.Background(), "owner/set")
	require.NoError(t, err)
	assert.Equal(t, "owner/set", f.datasets.gotRef)
	assert.Equal(t, 3, res.FileCount)
}
