package handler

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed ui/index.html
var uiFS embed.FS

var uiTemplate = template.Must(template.ParseFS(uiFS, "ui/index.html"))

// Example dataset offered by the UI's one-click download.
const defaultDatasetRef = "yogendras843/online-casino-dataset"

type uiData struct {
	MaxImages  int
	DatasetRef string
}

// Index serves the generation form.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = uiTemplate.Execute(w, uiData{
		MaxImages:  h.cfg.Upload.MaxImages,
		DatasetRef: defaultDatasetRef,
	})
}
