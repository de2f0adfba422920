package handler

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"otonote/internal/auth"
	"otonote/internal/jobs"
	"otonote/internal/media"
)

const defaultMaxUpload = 512 << 20

type JobHandler struct {
	Repo  *jobs.Repo
	Media *media.Store
	// MaxUploadBytes caps multipart bodies; 0 means 512 MiB.
	MaxUploadBytes int64
}

type jobDTO struct {
	ID           uint64     `json:"id"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	ModelName    string     `json:"model_name"`
	Language     string     `json:"language"`
	Diarize      bool       `json:"diarize"`
	SegmentSec   int        `json:"segment_sec"`
	Filename     string     `json:"filename"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

func toDTO(j *jobs.Job) jobDTO {
	return jobDTO{
		ID:           j.ID,
		Status:       string(j.Status),
		Progress:     j.Progress,
		ModelName:    j.ModelName,
		Language:     j.Language,
		Diarize:      j.Diarize,
		SegmentSec:   j.SegmentSec,
		Filename:     media.DisplayFilename(j.OriginalFilename, j.InputPath),
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
}

var (
	modelNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,31}$`)
	languageRe  = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,4})?$`)
)

// Create accepts a multipart upload and enqueues a job for it.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	job := jobs.New("")
	job.UserID = &uid
	job.OriginalFilename = hdr.Filename
	if err := applyOptions(job, r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, err := h.Media.Save(file, hdr.Filename)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("store upload")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	job.InputPath = path

	if err := h.Repo.Create(r.Context(), job); err != nil {
		_ = h.Media.Remove(path)
		hlog.FromRequest(r).Error().Err(err).Msg("create job")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toDTO(job))
}

func applyOptions(job *jobs.Job, r *http.Request) error {
	if v := strings.TrimSpace(r.FormValue("model_name")); v != "" {
		if !modelNameRe.MatchString(v) {
			return errors.New("invalid model_name")
		}
		job.ModelName = v
	}
	if v := strings.TrimSpace(r.FormValue("language")); v != "" {
		if v != jobs.LanguageAuto && !languageRe.MatchString(v) {
			return errors.New("invalid language")
		}
		job.Language = v
	}
	if v := strings.TrimSpace(r.FormValue("diarize")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("invalid diarize")
		}
		job.Diarize = b
	}
	if v := strings.TrimSpace(r.FormValue("segment_sec")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errors.New("invalid segment_sec")
		}
		job.SegmentSec = n
	}
	return nil
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.Repo.List(r.Context(), &uid, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	out := make([]jobDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toDTO(&rows[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDTO(job))
}

// Transcript serves output_text once the job is done.
func (h *JobHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	job, ok := h.owned(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusDone {
		http.Error(w, "not ready", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transcript_job_%d.txt"`, job.ID))
	_, _ = w.Write([]byte(job.OutputText))
}

// Requeue is the manual recovery path for errored jobs.
func (h *JobHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	job, ok := h.owned(w, r)
	if !ok {
		return
	}
	switch err := h.Repo.Requeue(r.Context(), job.ID); {
	case errors.Is(err, jobs.ErrInvalidTransition):
		http.Error(w, "only failed jobs can be requeued", http.StatusConflict)
		return
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	job, err := h.Repo.Get(r.Context(), job.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	hlog.FromRequest(r).Info().Uint64("job_id", job.ID).Msg("job requeued")
	writeJSON(w, http.StatusOK, toDTO(job))
}

// owned loads {id} and hides jobs of other users behind 404.
func (h *JobHandler) owned(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	job, err := h.Repo.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) || (err == nil && (job.UserID == nil || *job.UserID != uid)) {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}
