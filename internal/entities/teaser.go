package entities

import (
	"errors"
	"time"
)

// ErrNotReady guards share-link creation for renders still in flight.
var ErrNotReady = errors.New("teaser is not ready yet")

// TeaserStatus tracks the render lifecycle of a generation request.
type TeaserStatus string

const (
	StatusQueued    TeaserStatus = "queued"
	StatusRendering TeaserStatus = "rendering"
	StatusReady     TeaserStatus = "ready"
	StatusFailed    TeaserStatus = "failed"
)

// GenerationMode selects the backend that produces the video.
type GenerationMode string

const (
	ModeLocal  GenerationMode = "local"
	ModeRemote GenerationMode = "remote"
)

// Render target for Instagram Reels.
const (
	TargetWidth  = 1080
	TargetHeight = 1920

	MinDurationSeconds = 5
	MaxDurationSeconds = 10
)

type Teaser struct {
	ID               string         `json:"id"`
	Script           string         `json:"script"`
	OverlayText      string         `json:"overlay_text,omitempty"`
	BrandColor       string         `json:"brand_color"`
	FontSize         int            `json:"font_size"`
	DurationSeconds  int            `json:"duration_seconds"`
	FPS              int            `json:"fps"`
	Mode             GenerationMode `json:"mode"`
	FrameKeys        []string       `json:"frame_keys"`
	MusicKey         *string        `json:"music_key,omitempty"`
	Status           TeaserStatus   `json:"status"`
	Progress         int            `json:"progress"`
	OutputKey        *string        `json:"output_key,omitempty"`
	Error            *string        `json:"error,omitempty"`
	CreatedTimestamp time.Time      `json:"created_timestamp"`
	UpdatedTimestamp time.Time      `json:"updated_timestamp"`
}

// RenderSpec is everything a generation backend needs to produce the MP4.
// Frame and music paths point at files in the worker's temp workspace.
type RenderSpec struct {
	TeaserID        string
	FramePaths      []string
	MusicPath       string // empty when no music was attached
	Script          string
	OverlayText     string
	BrandColor      string
	FontSize        int
	DurationSeconds int
	FPS             int
	OutputPath      string
}
