package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rashedsumon/instagram-teaser/internal/entities"
)

func baseSpec() entities.RenderSpec {
	return entities.RenderSpec{
		TeaserID:        "t1",
		FramePaths:      []string{"a.jpg", "b.jpg", "c.jpg"},
		BrandColor:      "#FF6B6B",
		FontSize:        96,
		DurationSeconds: 7,
		FPS:             24,
		OutputPath:      "out.mp4",
	}
}

func TestClipSeconds(t *testing.T) {
	// xfade overlap: n clips of s seconds joined with c-second fades run
	// n*s - (n-1)*c seconds total.
	cases := []struct {
		duration  int
		n         int
		crossfade float64
	}{
		{7, 1, 0.5},
		{7, 3, 0.5},
		{5, 4, 0.5},
		{10, 2, 0.5},
	}
	for _, tc := range cases {
		single := clipSeconds(tc.duration, tc.n, tc.crossfade)
		total := float64(tc.n)*single - float64(tc.n-1)*tc.crossfade
		assert.InDelta(t, float64(tc.duration), total, 1e-9)
	}
}

func TestBuildFilterGraphChainsClips(t *testing.T) {
	graph, err := buildFilterGraph(baseSpec(), 0.5)
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(graph, "zoompan="))
	assert.Equal(t, 2, strings.Count(graph, "xfade=transition=fade"))
	assert.Contains(t, graph, "s=1080x1920")
	assert.Contains(t, graph, "fps=24")
	assert.Contains(t, graph, "[vout]")

	// Clips must not repeat the same pan back to back.
	assert.Contains(t, graph, "x='iw/2-(iw/zoom/2)'")
	assert.Contains(t, graph, "x='iw-iw/zoom'")
}

func TestBuildFilterGraphZoomSpansWholeClip(t *testing.T) {
	// Each still is decoded as one frame; zoompan's zoom counter resets per
	// input frame, so d must generate every frame of the clip or the Ken
	// Burns motion freezes at its first step.
	graph, err := buildFilterGraph(baseSpec(), 0.5)
	require.NoError(t, err)

	// 3 clips over 7s with 0.5s overlaps: 8/3 s each at 24 fps.
	assert.Contains(t, graph, "d=64:s=1080x1920")
	assert.NotContains(t, graph, "d=1:")

	spec := baseSpec()
	spec.FramePaths = spec.FramePaths[:1]
	graph, err = buildFilterGraph(spec, 0.5)
	require.NoError(t, err)
	assert.Contains(t, graph, "d=168:s=1080x1920")
}

func TestClipFrames(t *testing.T) {
	assert.Equal(t, 168, clipFrames(7, 24))
	assert.Equal(t, 64, clipFrames(8.0/3.0, 24))
	assert.Equal(t, 75, clipFrames(2.5, 30))
}

func TestBuildFilterGraphSingleClipSkipsXfade(t *testing.T) {
	spec := baseSpec()
	spec.FramePaths = spec.FramePaths[:1]

	graph, err := buildFilterGraph(spec, 0.5)
	require.NoError(t, err)

	assert.NotContains(t, graph, "xfade")
	assert.Contains(t, graph, "[v0]format=yuv420p[vout]")
}

func TestBuildFilterGraphOverlay(t *testing.T) {
	spec := baseSpec()
	spec.OverlayText = "Brand Teaser"

	graph, err := buildFilterGraph(spec, 0.5)
	require.NoError(t, err)

	assert.Contains(t, graph, "drawbox=")
	assert.Contains(t, graph, "color=0xff6b6b@0.25")
	assert.Contains(t, graph, "drawtext=text='Brand Teaser'")
	assert.Contains(t, graph, "fontsize=96")
}

func TestBuildFilterGraphNoOverlayNoDrawtext(t *testing.T) {
	graph, err := buildFilterGraph(baseSpec(), 0.5)
	require.NoError(t, err)
	assert.NotContains(t, graph, "drawtext")
}

func TestBuildFilterGraphMusic(t *testing.T) {
	spec := baseSpec()
	spec.MusicPath = "music.mp3"

	graph, err := buildFilterGraph(spec, 0.5)
	require.NoError(t, err)

	// Music is input index 3 (after the three frames).
	assert.Contains(t, graph, "[3:a]atrim=0:7")
	assert.Contains(t, graph, "afade=t=out:st=6.5")
	assert.Contains(t, graph, "[aout]")
}

func TestBuildFilterGraphNoFrames(t *testing.T) {
	spec := baseSpec()
	spec.FramePaths = nil

	_, err := buildFilterGraph(spec, 0.5)
	assert.Error(t, err)
}

func TestBuildFilterGraphBadBrandColor(t *testing.T) {
	spec := baseSpec()
	spec.OverlayText = "x"
	spec.BrandColor = "tomato"

	_, err := buildFilterGraph(spec, 0.5)
	assert.Error(t, err)
}

func TestEscapeDrawText(t *testing.T) {
	assert.Equal(t, `50\% off\: now\, really`, escapeDrawText("50% off: now, really"))
	assert.Equal(t, `it\\\'s`, escapeDrawText("it's"))
	assert.Equal(t, `a\;b\[c\]`, escapeDrawText("a;b[c]"))
}
