package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/repository"
)

// JobView is an export job plus its signed download link once the file is ready.
type JobView struct {
	domain.ExportJob
	DownloadURL *string `json:"download_url,omitempty"`
}

// View decorates job with a download URL.
func (s *Service) View(job domain.ExportJob) JobView {
	return JobView{ExportJob: job, DownloadURL: s.BuildDownloadURL(job)}
}

type Handler struct {
	service *Service
}

// NewHTTPHandler serves GET /api/v1/exports/{id} and GET /api/v1/exports/{id}/file.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid export identifier: %v", err), http.StatusBadRequest)
		return
	}
	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrExportJobNotFound) {
			http.Error(w, "export job not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("load export job: %v", err), http.StatusInternalServerError)
		return
	}
	if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/file") {
		h.handleDownload(w, r, job)
		return
	}
	writeJSON(w, http.StatusOK, h.service.View(job))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, job domain.ExportJob) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.service.ValidateDownloadToken(job.ID, token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	file, err := h.service.OpenJobFile(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(*job.FilePath))
	contentType := "application/octet-stream"
	if job.FileMimeType != nil && strings.TrimSpace(*job.FileMimeType) != "" {
		contentType = *job.FileMimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if job.BytesWritten > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(job.BytesWritten, 10))
	}
	http.ServeContent(w, r, filename, job.UpdatedAt, file)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
