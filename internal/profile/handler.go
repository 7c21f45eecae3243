package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"citizen-portal/internal/auth"
	"citizen-portal/internal/observability"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxPhotoBytes    = 1 << 20 // the portal caps photos at 1 MB
)

// PhotoStore persists an uploaded profile photo and returns its serving path.
type PhotoStore interface {
	Save(ctx context.Context, contentType string, data []byte) (string, error)
}

type Handler struct {
	repo   *Repository
	photos PhotoStore
}

func NewHandler(repo *Repository, photos PhotoStore) *Handler {
	return &Handler{repo: repo, photos: photos}
}

func snapshotPayload(s Snapshot) map[string]any {
	return map[string]any{
		"user":       s.User.Public(),
		"profile":    s.Profile,
		"completion": s.Completion,
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context()).User

	s, err := h.repo.Snapshot(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Data akun tidak ditemukan.")
			return
		}
		h.internalError(w, r, err, "Gagal memuat data profil.")
		return
	}

	writeJSON(w, http.StatusOK, snapshotPayload(s))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context()).User

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Format permintaan tidak valid.")
		return
	}

	input.FullName = strings.TrimSpace(input.FullName)
	input.Email = strings.TrimSpace(input.Email)
	if input.FullName == "" || input.Email == "" {
		writeError(w, http.StatusBadRequest, "Nama lengkap dan email wajib diisi.")
		return
	}

	s, err := h.repo.Update(r.Context(), user.ID, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Data akun tidak ditemukan.")
			return
		}
		h.internalError(w, r, err, "Gagal menyimpan data profil.")
		return
	}

	writeJSON(w, http.StatusOK, snapshotPayload(s))
}

func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context()).User

	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Format unggahan tidak valid.")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File foto wajib diunggah.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Gagal membaca file foto.")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "File foto kosong.")
		return
	}
	if len(data) > maxPhotoBytes {
		writeError(w, http.StatusBadRequest, "Ukuran file terlalu besar. Maksimal 1MB.")
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "File harus berupa gambar.")
		return
	}

	path, err := h.photos.Save(r.Context(), contentType, data)
	if err != nil {
		h.internalError(w, r, err, "Gagal menyimpan foto.")
		return
	}

	if err := h.repo.SetPhotoPath(r.Context(), user.ID, path); err != nil {
		h.internalError(w, r, err, "Gagal menyimpan foto.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Foto profil berhasil diperbarui.",
		"photoPath": path,
	})
}

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.AdminList(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.internalError(w, r, err, "Gagal memuat daftar warga.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) AdminDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "ID tidak valid.")
		return
	}

	s, err := h.repo.Snapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Data warga tidak ditemukan.")
			return
		}
		h.internalError(w, r, err, "Gagal memuat detail warga.")
		return
	}

	writeJSON(w, http.StatusOK, snapshotPayload(s))
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	sentry.CaptureException(err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":     message,
		"requestId": observability.RequestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
