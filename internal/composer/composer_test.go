package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rashedsumon/instagram-teaser/internal/config"
)

func testComposer() *Composer {
	return New(config.RenderConfig{
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		CRF:              18,
		Preset:           "medium",
		CrossfadeSeconds: 0.5,
	})
}

func TestBuildArgs(t *testing.T) {
	c := testComposer()
	spec := baseSpec()
	spec.MusicPath = "music.mp3"

	args, err := c.buildArgs(spec)
	require.NoError(t, err)
	joined := strings.Join(args, " ")

	// One single-frame input per still plus the music input; looping would
	// reset zoompan's zoom counter on every decoded frame.
	assert.NotContains(t, joined, "-loop")
	assert.Equal(t, 4, strings.Count(joined, " -i "))
	assert.Contains(t, joined, "-i music.mp3")

	assert.Contains(t, joined, "-map [vout]")
	assert.Contains(t, joined, "-map [aout]")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-profile:v high")
	assert.Contains(t, joined, "-crf 18")
	assert.Contains(t, joined, "-preset medium")
	assert.Contains(t, joined, "-r 24")
	assert.Contains(t, joined, "-t 7")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.Contains(t, joined, "-progress pipe:1")
}

func TestBuildArgsWithoutMusicHasNoAudio(t *testing.T) {
	c := testComposer()

	args, err := c.buildArgs(baseSpec())
	require.NoError(t, err)
	joined := strings.Join(args, " ")

	assert.NotContains(t, joined, "[aout]")
	assert.NotContains(t, joined, "-c:a")
}

func TestValidateMusicDuration(t *testing.T) {
	// Shorter than the teaser is fine: the audio just ends early.
	assert.NoError(t, validateMusicDuration(3))
	assert.NoError(t, validateMusicDuration(29.9))
	// Container rounding tolerance on the cap.
	assert.NoError(t, validateMusicDuration(30.4))
	assert.Error(t, validateMusicDuration(31))
	assert.Error(t, validateMusicDuration(182))
}

func TestParseProgressLine(t *testing.T) {
	total := int64(7000) // 7s in ms

	percent, ok := parseProgressLine("out_time_ms=3500000", total)
	require.True(t, ok)
	assert.Equal(t, 50, percent)

	// Values past the end are capped below 100 until the file lands.
	percent, ok = parseProgressLine("out_time_ms=9000000", total)
	require.True(t, ok)
	assert.Equal(t, 99, percent)

	_, ok = parseProgressLine("fps=24.0", total)
	assert.False(t, ok)

	_, ok = parseProgressLine("out_time_ms=garbage", total)
	assert.False(t, ok)

	_, ok = parseProgressLine("out_time_ms=1000", 0)
	assert.False(t, ok)
}

func TestParseDimensions(t *testing.T) {
	w, h, err := parseDimensions("1080,1920\n")
	require.NoError(t, err)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	_, _, err = parseDimensions("")
	assert.Error(t, err)

	_, _, err = parseDimensions("1080")
	assert.Error(t, err)
}
