package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rashedsumon/instagram-teaser/internal/config"
	"github.com/rashedsumon/instagram-teaser/internal/dataset"
	"github.com/rashedsumon/instagram-teaser/internal/entities"
	"github.com/rashedsumon/instagram-teaser/internal/redismanager"
	"github.com/rashedsumon/instagram-teaser/internal/repository/storage"
)

type UseCase interface {
	CreateTeaser(ctx context.Context, images []ImageUpload, music *MusicUpload, params CreateTeaserParams) (entities.Teaser, error)
	GetTeaser(ctx context.Context, id string) (entities.Teaser, error)
	ListTeasers(ctx context.Context, limit int) ([]entities.Teaser, error)
	ShareTeaser(ctx context.Context, id string) (string, error)
	ResolveShare(ctx context.Context, hash string) (string, error)
	DownloadDataset(ctx context.Context, ref string) (dataset.Result, error)
}

type Handler struct {
	useCase          UseCase
	cfg              *config.Config
	validator        *validator.Validate
	remoteConfigured bool
	startedAt        time.Time
}

func New(useCase UseCase, cfg *config.Config, remoteConfigured bool) *Handler {
	return &Handler{
		useCase:          useCase,
		cfg:              cfg,
		validator:        validator.New(),
		remoteConfigured: remoteConfigured,
		startedAt:        time.Now(),
	}
}

// CreateTeaser accepts the multipart generation form and answers 202 with
// the queued record.
func (h *Handler) CreateTeaser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxRequestBodyMB<<20)

	maxMultipartMem := h.cfg.Upload.MaxMultipartMemoryMB
	if err := r.ParseMultipartForm(maxMultipartMem << 20); err != nil {
		writeMultipartError(w, err)
		return
	}

	params := CreateTeaserParams{
		Script:      r.Form.Get("script"),
		OverlayText: r.Form.Get("text"),
		BrandColor:  r.Form.Get("brandColor"),
		FontSize:    parseIntDefault(r.Form.Get("fontSize"), 96),
		Duration:    parseIntDefault(r.Form.Get("duration"), 7),
		FPS:         parseIntDefault(r.Form.Get("fps"), 24),
		Mode:        r.Form.Get("mode"),
	}
	if params.Mode == "" {
		params.Mode = string(entities.ModeLocal)
	}

	if err := h.validator.Struct(params); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(validationErrorsToMap(err))
		return
	}

	if params.Mode == string(entities.ModeRemote) && !h.remoteConfigured {
		writeJSONError(w, "remote provider is not configured: set provider.endpoint and provider.api_key", http.StatusBadRequest)
		return
	}

	images, cleanup, err := h.collectImages(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cleanup()

	music, musicCleanup, err := h.collectMusic(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer musicCleanup()

	teaser, err := h.useCase.CreateTeaser(context.Background(), images, music, params)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, teaser)
}

// collectImages sniffs each uploaded reference image. Zero images is fine:
// the use-case substitutes a brand-color placeholder frame.
func (h *Handler) collectImages(r *http.Request) ([]ImageUpload, func(), error) {
	var files []multipart.File
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) > h.cfg.Upload.MaxImages {
		return nil, cleanup, fmt.Errorf("too many images: got %d, maximum is %d", len(headers), h.cfg.Upload.MaxImages)
	}

	uploads := make([]ImageUpload, 0, len(headers))
	for _, fh := range headers {
		file, err := fh.Open()
		if err != nil {
			return nil, cleanup, fmt.Errorf("open image %q: %w", fh.Filename, err)
		}
		files = append(files, file)

		mime, err := mimetype.DetectReader(file)
		if err != nil {
			return nil, cleanup, err
		}
		if _, err := file.Seek(0, 0); err != nil {
			return nil, cleanup, err
		}
		if err := validateImageMimeType(mime.String()); err != nil {
			return nil, cleanup, err
		}

		uploads = append(uploads, ImageUpload{Reader: file, Ext: mime.Extension()})
	}
	return uploads, cleanup, nil
}

func (h *Handler) collectMusic(r *http.Request) (*MusicUpload, func(), error) {
	cleanup := func() {}

	headers := r.MultipartForm.File["music"]
	if len(headers) == 0 {
		return nil, cleanup, nil
	}

	file, err := headers[0].Open()
	if err != nil {
		return nil, cleanup, fmt.Errorf("open music %q: %w", headers[0].Filename, err)
	}
	cleanup = func() { _ = file.Close() }

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		return nil, cleanup, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return nil, cleanup, err
	}
	if err := validateAudioMimeType(mime.String()); err != nil {
		return nil, cleanup, err
	}

	return &MusicUpload{Reader: file, Ext: mime.Extension()}, cleanup, nil
}

func (h *Handler) GetTeaser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSONError(w, "invalid teaser id", http.StatusBadRequest)
		return
	}

	teaser, err := h.useCase.GetTeaser(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, "teaser not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, teaser)
}

func (h *Handler) ListTeasers(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	teasers, err := h.useCase.ListTeasers(r.Context(), limit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if teasers == nil {
		teasers = []entities.Teaser{}
	}
	writeJSON(w, http.StatusOK, teasers)
}

func (h *Handler) ShareTeaser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSONError(w, "invalid teaser id", http.StatusBadRequest)
		return
	}

	hash, err := h.useCase.ShareTeaser(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, "teaser not found", http.StatusNotFound)
		return
	case errors.Is(err, entities.ErrNotReady):
		writeJSONError(w, "teaser is not ready yet", http.StatusConflict)
		return
	case err != nil:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"hash": hash,
		"url":  "/s/" + hash,
	})
}

func (h *Handler) ResolveShare(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	url, err := h.useCase.ResolveShare(r.Context(), hash)
	if errors.Is(err, redismanager.ErrShareNotFound) {
		writeJSONError(w, "share link not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

type datasetRequest struct {
	Ref string `json:"ref"`
}

func (h *Handler) DownloadDataset(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.useCase.DownloadDataset(r.Context(), req.Ref)
	if errors.Is(err, dataset.ErrInvalidRef) {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}
