package composer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rashedsumon/instagram-teaser/internal/entities"
	"github.com/rashedsumon/instagram-teaser/internal/processor"
)

// kenBurnsMove is one pan/zoom program for a single clip. The x/y values are
// zoompan expressions evaluated by ffmpeg per output frame.
type kenBurnsMove struct {
	zoomRate float64
	maxZoom  float64
	panX     string
	panY     string
}

// Clips cycle through these moves so multi-image teasers do not repeat the
// same motion back to back.
var kenBurnsMoves = []kenBurnsMove{
	{zoomRate: 0.0005, maxZoom: 1.06, panX: "iw/2-(iw/zoom/2)", panY: "ih/2-(ih/zoom/2)"}, // slow center zoom
	{zoomRate: 0.0005, maxZoom: 1.06, panX: "iw-iw/zoom", panY: "ih/2-(ih/zoom/2)"},       // pan left
	{zoomRate: 0.0005, maxZoom: 1.06, panX: "0", panY: "ih/2-(ih/zoom/2)"},                // pan right
	{zoomRate: 0.0005, maxZoom: 1.06, panX: "iw/2-(iw/zoom/2)", panY: "ih-ih/zoom"},       // pan up
}

// zoompan jitters on small sources, so clips are upscaled first.
const zoompanScaleWidth = 6000

// clipSeconds splits the teaser duration across n clips such that the xfade
// chain (each transition eats crossfade seconds of overlap) lands exactly on
// the requested duration.
func clipSeconds(durationSeconds int, n int, crossfade float64) float64 {
	if n < 1 {
		n = 1
	}
	total := float64(durationSeconds)
	return (total + float64(n-1)*crossfade) / float64(n)
}

// clipFrames is the number of output frames zoompan generates from one
// still. The zoom counter resets on every new input frame, so each still is
// fed as a single frame and d must cover the whole clip for the motion to
// progress.
func clipFrames(clipSeconds float64, fps int) int {
	return int(math.Round(clipSeconds * float64(fps)))
}

// buildFilterGraph assembles the filter_complex for the teaser: per-clip
// Ken Burns zoompan, an xfade chain between clips, the optional lower-third
// overlay and the optional trimmed music track.
//
// Inputs 0..len(FramePaths)-1 are the stills, one decoded frame each;
// zoompan expands every still to its clip length. When MusicPath is set the
// music file is the last input.
func buildFilterGraph(spec entities.RenderSpec, crossfade float64) (string, error) {
	n := len(spec.FramePaths)
	if n == 0 {
		return "", fmt.Errorf("no frames to compose")
	}

	single := clipSeconds(spec.DurationSeconds, n, crossfade)
	var b strings.Builder

	for i := 0; i < n; i++ {
		move := kenBurnsMoves[i%len(kenBurnsMoves)]
		fmt.Fprintf(&b,
			"[%d:v]scale=%d:-2,zoompan=z='min(zoom+%g,%g)':x='%s':y='%s':d=%d:s=%dx%d:fps=%d,setsar=1[v%d];",
			i, zoompanScaleWidth,
			move.zoomRate, move.maxZoom, move.panX, move.panY,
			clipFrames(single, spec.FPS),
			entities.TargetWidth, entities.TargetHeight, spec.FPS, i,
		)
	}

	last := "v0"
	for i := 1; i < n; i++ {
		offset := float64(i) * (single - crossfade)
		out := fmt.Sprintf("x%d", i)
		fmt.Fprintf(&b,
			"[%s][v%d]xfade=transition=fade:duration=%g:offset=%.3f[%s];",
			last, i, crossfade, offset, out,
		)
		last = out
	}

	if spec.OverlayText != "" {
		boxColor, err := processor.ParseHexColor(spec.BrandColor)
		if err != nil {
			return "", err
		}
		boxH := spec.FontSize + 20
		fmt.Fprintf(&b,
			"[%s]drawbox=x=(iw-iw*0.94)/2:y=ih*0.72:w=iw*0.94:h=%d:color=0x%02x%02x%02x@0.25:t=fill,"+
				"drawtext=text='%s':fontsize=%d:fontcolor=white:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h*0.75[txt];",
			last, boxH, boxColor.R, boxColor.G, boxColor.B,
			escapeDrawText(spec.OverlayText), spec.FontSize,
		)
		last = "txt"
	}

	fmt.Fprintf(&b, "[%s]format=yuv420p[vout]", last)

	if spec.MusicPath != "" {
		fadeStart := float64(spec.DurationSeconds) - 0.5
		if fadeStart < 0 {
			fadeStart = 0
		}
		fmt.Fprintf(&b,
			";[%d:a]atrim=0:%d,afade=t=out:st=%.1f:d=0.5[aout]",
			n, spec.DurationSeconds, fadeStart,
		)
	}

	return b.String(), nil
}

// escapeDrawText neutralizes characters that terminate or re-parse the
// drawtext option value inside a filter_complex string.
func escapeDrawText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\\\'`,
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
		`;`, `\;`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(s)
}
