package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rashedsumon/instagram-teaser/internal/config"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
)

const defaultRemoteTimeout = 5 * time.Minute

// Remote calls an external AI video API. Until an endpoint and API key are
// configured it reports ErrNotConfigured, which the API surfaces to the user.
type Remote struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewRemote(cfg config.ProviderConfig) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Name() string { return string(entities.ModeRemote) }

// Configured reports whether the backend can be used at all, so the API can
// reject remote-mode requests before anything is enqueued.
func (r *Remote) Configured() bool {
	return r.endpoint != "" && r.apiKey != ""
}

type remoteRequest struct {
	Script          string `json:"script"`
	OverlayText     string `json:"overlay_text,omitempty"`
	BrandColor      string `json:"brand_color"`
	DurationSeconds int    `json:"duration_seconds"`
	FPS             int    `json:"fps"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type remoteResponse struct {
	VideoURL string `json:"video_url"`
}

func (r *Remote) Generate(ctx context.Context, spec entities.RenderSpec, onProgress func(int)) error {
	if !r.Configured() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(remoteRequest{
		Script:          spec.Script,
		OverlayText:     spec.OverlayText,
		BrandColor:      spec.BrandColor,
		DurationSeconds: spec.DurationSeconds,
		FPS:             spec.FPS,
		Width:           entities.TargetWidth,
		Height:          entities.TargetHeight,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/generations", strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("remote generation failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode remote response: %w", err)
	}
	if out.VideoURL == "" {
		return fmt.Errorf("remote response carries no video_url")
	}

	if onProgress != nil {
		onProgress(50)
	}
	return r.download(ctx, out.VideoURL, spec.OutputPath)
}

func (r *Remote) download(ctx context.Context, url, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download remote video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download remote video: %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	tmpPath := outputPath + ".tmp.mp4"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, outputPath)
}
