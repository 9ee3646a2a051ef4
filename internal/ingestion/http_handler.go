package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/datafusion/internal/domain"
	"github.com/rpattn/datafusion/internal/repository"

	"github.com/google/uuid"
)

const maxUploadBytes = 64 << 20

// Sink receives parsed uploads for a run.
type Sink interface {
	AcceptUpload(ctx context.Context, runID uuid.UUID, pair Pair) error
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	RunID    uuid.UUID                                   `json:"runId"`
	Profiles map[domain.DatasetTag]domain.DatasetProfile `json:"profiles"`
	Rows     map[domain.DatasetTag]int                   `json:"rows"`
}

// Handler exposes dataset upload as an HTTP endpoint.
type Handler struct {
	service *Service
	sink    Sink
}

// NewHTTPHandler wraps the service with a multipart POST endpoint expecting bankA and bankB
// file fields. The run id is read from the {id} path value.
func NewHTTPHandler(service *Service, sink Sink) http.Handler {
	return &Handler{service: service, sink: sink}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runID, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid run id: %v", err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headerRow, err := optionalInt(r.FormValue("headerRowIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid headerRowIndex: %v", err))
		return
	}

	bankA, closeA, err := formUpload(r, string(domain.DatasetBankA), headerRow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeA()
	bankB, closeB, err := formUpload(r, string(domain.DatasetBankB), headerRow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeB()

	pair, err := h.service.ParsePair(r.Context(), runID, bankA, bankB)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, err.Error())
		return
	}

	if h.sink != nil {
		if err := h.sink.AcceptUpload(r.Context(), runID, pair); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repository.ErrRunNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		RunID: runID,
		Profiles: map[domain.DatasetTag]domain.DatasetProfile{
			domain.DatasetBankA: pair.BankA.Profile,
			domain.DatasetBankB: pair.BankB.Profile,
		},
		Rows: map[domain.DatasetTag]int{
			domain.DatasetBankA: len(pair.BankA.Rows),
			domain.DatasetBankB: len(pair.BankB.Rows),
		},
	})
}

func formUpload(r *http.Request, field string, headerRow *int) (Upload, func(), error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return Upload{}, func() {}, fmt.Errorf("%s file required: %v", field, err)
	}
	return Upload{
		FileName:       header.Filename,
		HeaderRowIndex: headerRow,
		Data:           file,
	}, func() { closeFile(file) }, nil
}

func closeFile(file multipart.File) {
	_ = file.Close()
}

func optionalInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
