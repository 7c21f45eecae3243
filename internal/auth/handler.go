package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"citizen-portal/internal/observability"
)

const (
	sessionCookieName = "portal_session"
	maxJSONBodyBytes  = 1 << 20

	adminDashboardPath = "/html/dashboard_admin.html"
	resetPagePath      = "/html/lupapassword.html"
)

// ProfileSource supplies the profile section of the /api/auth/me payload.
type ProfileSource interface {
	ProfileFor(ctx context.Context, userID string) (profile any, completion any, err error)
}

type Handler struct {
	service       *Service
	profiles      ProfileSource
	secureCookies bool
}

func NewHandler(service *Service, profiles ProfileSource, secureCookies bool) *Handler {
	return &Handler{service: service, profiles: profiles, secureCookies: secureCookies}
}

type loginRequest struct {
	NIK      string `json:"nik"`
	Password string `json:"password"`
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

type forgotRequest struct {
	NIK string `json:"nik"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	nik, ok := NormalizeNIK(body.NIK)
	if !ok {
		writeError(w, http.StatusBadRequest, "NIK harus berisi 16 digit angka.")
		return
	}

	result, err := h.service.Login(r.Context(), nik, strings.TrimSpace(body.Password), attemptMeta(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "NIK atau kata sandi tidak valid.")
			return
		}
		h.internalError(w, r, err, "Gagal memproses login.")
		return
	}

	h.setSessionCookie(w, result.RawToken, result.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login berhasil.",
		"user":    result.User.Public(),
		"session": sessionPayload(result.ExpiresAt),
	})
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var body adminLoginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	password := strings.TrimSpace(body.Password)
	if password == "" {
		writeError(w, http.StatusBadRequest, "Password admin wajib diisi.")
		return
	}

	result, err := h.service.AdminLogin(r.Context(), password, attemptMeta(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Password admin tidak valid.")
			return
		}
		if errors.Is(err, ErrNoAdminAccount) || errors.Is(err, ErrAdminLoginDisabled) {
			h.internalError(w, r, err, "Akun admin belum disiapkan.")
			return
		}
		h.internalError(w, r, err, "Gagal memproses login admin.")
		return
	}

	h.setSessionCookie(w, result.RawToken, result.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Login admin berhasil.",
		"redirect": adminDashboardPath,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	auth := FromContext(r.Context())

	if err := h.service.Logout(r.Context(), auth.Session.ID); err != nil {
		h.internalError(w, r, err, "Gagal melakukan logout.")
		return
	}

	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout berhasil."})
}

func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	var body forgotRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	nik, ok := NormalizeNIK(body.NIK)
	if !ok {
		writeError(w, http.StatusBadRequest, "NIK harus berisi 16 digit angka.")
		return
	}

	result, err := h.service.Forgot(r.Context(), nik)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "NIK tidak terdaftar.")
			return
		}
		if errors.Is(err, ErrAccountInactive) {
			writeError(w, http.StatusForbidden, "Akun tidak aktif. Hubungi admin.")
			return
		}
		h.internalError(w, r, err, "Gagal membuat tautan reset.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Akun ditemukan. Gunakan tautan reset berikut.",
		"resetLink": resetPagePath + "?token=" + result.RawToken,
		"token":     result.RawToken,
		"expiresAt": result.ExpiresAt,
		"user": map[string]string{
			"nik":      result.User.NIK,
			"fullName": result.User.FullName,
		},
	})
}

func (h *Handler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "Token wajib diisi.")
		return
	}

	info, err := h.service.ValidateResetToken(r.Context(), token)
	if err != nil {
		if message, ok := resetTokenMessage(err); ok {
			writeError(w, http.StatusBadRequest, message)
			return
		}
		h.internalError(w, r, err, "Gagal memeriksa token reset.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"nik":       info.User.NIK,
		"fullName":  info.User.FullName,
		"expiresAt": info.Token.ExpiresAt,
	})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	token := strings.TrimSpace(body.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Token wajib diisi.")
		return
	}

	err := h.service.ResetPassword(r.Context(), token, body.NewPassword)
	if err != nil {
		var policyErr PolicyError
		if errors.As(err, &policyErr) {
			writePolicyError(w, policyErr)
			return
		}
		if message, ok := resetTokenMessage(err); ok {
			writeError(w, http.StatusBadRequest, message)
			return
		}
		h.internalError(w, r, err, "Gagal mengatur ulang kata sandi.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Kata sandi berhasil diperbarui. Silakan login kembali."})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	auth := FromContext(r.Context())

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.CurrentPassword) == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Kata sandi saat ini dan kata sandi baru wajib diisi.")
		return
	}

	err := h.service.ChangePassword(r.Context(), auth.User, body.CurrentPassword, body.NewPassword)
	if err != nil {
		var policyErr PolicyError
		if errors.As(err, &policyErr) {
			writePolicyError(w, policyErr)
			return
		}
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Kata sandi saat ini salah.")
			return
		}
		if errors.Is(err, ErrSamePassword) {
			writeError(w, http.StatusBadRequest, "Kata sandi baru tidak boleh sama dengan kata sandi saat ini.")
			return
		}
		h.internalError(w, r, err, "Gagal memperbarui kata sandi.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Kata sandi berhasil diperbarui."})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	auth := FromContext(r.Context())

	profile, completion, err := h.profiles.ProfileFor(r.Context(), auth.User.ID)
	if err != nil {
		h.internalError(w, r, err, "Gagal memuat data akun.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":       auth.User.Public(),
		"profile":    profile,
		"completion": completion,
		"session":    sessionPayload(auth.Session.ExpiresAt),
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, rawToken string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    rawToken,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	sentry.CaptureException(err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":     message,
		"requestId": observability.RequestID(r.Context()),
	})
}

func sessionPayload(expiresAt time.Time) map[string]any {
	return map[string]any{"expiresAt": expiresAt}
}

func attemptMeta(r *http.Request) AttemptMeta {
	return AttemptMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func resetTokenMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrResetTokenNotFound):
		return "Token reset tidak valid.", true
	case errors.Is(err, ErrResetTokenUsed):
		return "Token reset sudah digunakan.", true
	case errors.Is(err, ErrResetTokenExpired):
		return "Token reset sudah kedaluwarsa.", true
	case errors.Is(err, ErrResetAccountInactive):
		return "Akun tidak aktif. Hubungi admin.", true
	}
	return "", false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "Format permintaan tidak valid.")
		return false
	}

	return true
}

func writePolicyError(w http.ResponseWriter, policyErr PolicyError) {
	failed := make([]string, 0, len(policyErr.Violations))
	messages := make([]string, 0, len(policyErr.Violations))
	for _, v := range policyErr.Violations {
		failed = append(failed, v.Key)
		messages = append(messages, v.Message)
	}

	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":    "Kata sandi belum memenuhi ketentuan.",
		"failed":   failed,
		"messages": messages,
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
