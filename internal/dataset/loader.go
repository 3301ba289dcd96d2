package dataset

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rashedsumon/instagram-teaser/internal/config"
)

const defaultTimeout = 60 * time.Second

// refPattern matches "owner/dataset-slug" dataset references.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9][\w.-]*/[A-Za-z0-9][\w.-]*$`)

var ErrInvalidRef = errors.New("dataset ref must look like owner/dataset-name")

// Loader fetches sample-asset datasets from a Kaggle-style hosting API:
// a basic-auth GET of a zip archive which is unpacked under the download dir.
type Loader struct {
	baseURL     string
	username    string
	apiKey      string
	downloadDir string
	maxRetries  int
	client      *http.Client
}

func New(cfg config.DatasetConfig) *Loader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Loader{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		apiKey:      cfg.APIKey,
		downloadDir: cfg.DownloadDir,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{Timeout: timeout},
	}
}

// Result describes one completed download.
type Result struct {
	Ref       string `json:"ref"`
	Path      string `json:"path"`
	FileCount int    `json:"file_count"`
}

// Download fetches ref ("owner/dataset-name") and unpacks it into
// <downloadDir>/<owner>/<dataset-name>, returning the extraction path.
// Re-downloading the same ref overwrites previous files in place.
func (l *Loader) Download(ctx context.Context, ref string) (Result, error) {
	ref = strings.TrimSpace(ref)
	if !refPattern.MatchString(ref) {
		return Result{}, ErrInvalidRef
	}

	archivePath, err := l.fetchArchive(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(archivePath)

	dest := filepath.Join(l.downloadDir, filepath.FromSlash(ref))
	count, err := extractZip(archivePath, dest)
	if err != nil {
		return Result{}, fmt.Errorf("unpack %s: %w", ref, err)
	}

	return Result{Ref: ref, Path: dest, FileCount: count}, nil
}

// fetchArchive GETs the dataset zip with a bounded retry loop. Only the
// request itself is retried; a canceled context stops immediately.
func (l *Loader) fetchArchive(ctx context.Context, ref string) (string, error) {
	url := fmt.Sprintf("%s/datasets/download/%s", l.baseURL, ref)

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		path, err := l.fetchOnce(ctx, url)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("download %s: %w", ref, lastErr)
}

func (l *Loader) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if l.username != "" {
		req.SetBasicAuth(l.username, l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dataset host answered %s", resp.Status)
	}

	if err := os.MkdirAll(l.downloadDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(l.downloadDir, "dataset-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// extractZip unpacks the archive under dest, rejecting entries that would
// escape it.
func extractZip(archivePath, dest string) (int, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, err
	}

	count := 0
	for _, f := range r.File {
		target, err := sanitizePath(dest, f.Name)
		if err != nil {
			return count, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if err := writeEntry(f, target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func sanitizePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
