package composer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rashedsumon/instagram-teaser/internal/config"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
)

// DurationTolerance absorbs container rounding on the rendered file. Probed
// durations outside [min, max+tolerance) fail validation.
const DurationTolerance = 0.5

// MaxMusicSeconds caps uploaded background tracks; the UI advertises the
// same limit. Tracks shorter than the teaser are fine, the audio just ends
// early.
const MaxMusicSeconds = 30

func validateMusicDuration(d float64) error {
	if d > MaxMusicSeconds+DurationTolerance {
		return fmt.Errorf("music track is %.1fs, longer than the %ds limit", d, MaxMusicSeconds)
	}
	return nil
}

// Composer wraps ffmpeg/ffprobe calls that turn prepared frames plus
// optional music into the final vertical MP4.
type Composer struct {
	ffmpegPath  string
	ffprobePath string
	crf         int
	preset      string
	crossfade   float64
}

func New(cfg config.RenderConfig) *Composer {
	return &Composer{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		crf:         cfg.CRF,
		preset:      cfg.Preset,
		crossfade:   cfg.CrossfadeSeconds,
	}
}

// Render composes spec into spec.OutputPath, reporting whole percents to
// onProgress. The file is written through a tmp path and renamed only after
// the probe check passes.
func (c *Composer) Render(ctx context.Context, spec entities.RenderSpec, onProgress func(int)) error {
	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0o755); err != nil {
		return err
	}

	if spec.MusicPath != "" {
		d, err := c.MusicDuration(ctx, spec.MusicPath)
		if err != nil {
			return fmt.Errorf("probe music: %w", err)
		}
		if err := validateMusicDuration(d); err != nil {
			return err
		}
	}

	args, err := c.buildArgs(spec)
	if err != nil {
		return err
	}

	tmpPath := spec.OutputPath + ".tmp.mp4"
	_ = os.Remove(tmpPath)
	args = append(args, tmpPath)

	if err := c.runWithProgress(ctx, spec.DurationSeconds, onProgress, args...); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := c.Validate(ctx, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	_ = os.Remove(spec.OutputPath)
	if err := os.Rename(tmpPath, spec.OutputPath); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

func (c *Composer) buildArgs(spec entities.RenderSpec) ([]string, error) {
	graph, err := buildFilterGraph(spec, c.crossfade)
	if err != nil {
		return nil, err
	}

	// Stills go in as single frames; zoompan generates the clip from each
	// one, which keeps its zoom counter climbing across the whole clip.
	args := []string{"-y", "-progress", "pipe:1", "-nostats"}
	for _, frame := range spec.FramePaths {
		args = append(args, "-i", frame)
	}
	if spec.MusicPath != "" {
		args = append(args, "-i", spec.MusicPath)
	}

	args = append(args,
		"-filter_complex", graph,
		"-map", "[vout]",
	)
	if spec.MusicPath != "" {
		args = append(args, "-map", "[aout]", "-c:a", "aac", "-b:a", "192k", "-ar", "48000")
	}

	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "high",
		"-level", "4.0",
		"-preset", c.preset,
		"-crf", strconv.Itoa(c.crf),
		"-r", strconv.Itoa(spec.FPS),
		"-t", strconv.Itoa(spec.DurationSeconds),
		"-movflags", "+faststart",
		"-f", "mp4",
	)
	return args, nil
}

// runWithProgress executes ffmpeg and converts its -progress key=value
// stream into whole-percent callbacks, capped at 99 until the file lands.
func (c *Composer) runWithProgress(ctx context.Context, durationSeconds int, onProgress func(int), args ...string) error {
	totalMs := int64(durationSeconds) * 1000
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	lastProgress := 0
	for scanner.Scan() {
		percent, ok := parseProgressLine(scanner.Text(), totalMs)
		if !ok || percent <= lastProgress {
			continue
		}
		lastProgress = percent
		if onProgress != nil {
			onProgress(percent)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// parseProgressLine maps an "out_time_ms=N" line to a percent of totalMs.
// ffmpeg reports out_time_ms in microseconds despite the name.
func parseProgressLine(line string, totalMs int64) (int, bool) {
	line = strings.TrimSpace(line)
	key, value, found := strings.Cut(line, "=")
	if !found || key != "out_time_ms" || totalMs <= 0 {
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	percent := int(float64(us/1000) / float64(totalMs) * 100)
	if percent < 0 {
		return 0, false
	}
	if percent > 99 {
		percent = 99
	}
	return percent, true
}

// Validate probes the rendered file and rejects anything that is not a
// 1080x1920 teaser within the allowed duration window.
func (c *Composer) Validate(ctx context.Context, path string) error {
	w, h, err := c.probeDimensions(ctx, path)
	if err != nil {
		return fmt.Errorf("probe dimensions: %w", err)
	}
	if w != entities.TargetWidth || h != entities.TargetHeight {
		return fmt.Errorf("rendered %dx%d, want %dx%d", w, h, entities.TargetWidth, entities.TargetHeight)
	}

	duration, err := c.probeDuration(ctx, path)
	if err != nil {
		return fmt.Errorf("probe duration: %w", err)
	}
	if duration < entities.MinDurationSeconds || duration >= entities.MaxDurationSeconds+DurationTolerance {
		return fmt.Errorf("rendered duration %.2fs outside [%d,%d]s",
			duration, entities.MinDurationSeconds, entities.MaxDurationSeconds)
	}
	return nil
}

func (c *Composer) probeDimensions(ctx context.Context, inputPath string) (int, int, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, c.ffprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, err
	}
	return parseDimensions(string(out))
}

func parseDimensions(out string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(out), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected ffprobe output %q", strings.TrimSpace(out))
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

func (c *Composer) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nokey=1:noprint_wrappers=1",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, c.ffprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return 0, fmt.Errorf("duration missing")
	}
	return strconv.ParseFloat(value, 64)
}

// MusicDuration probes an uploaded track so over-long uploads can be
// rejected before render time.
func (c *Composer) MusicDuration(ctx context.Context, path string) (float64, error) {
	return c.probeDuration(ctx, path)
}
