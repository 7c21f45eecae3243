package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"citizen-portal/internal/auth"
	"citizen-portal/internal/observability"
)

// Result reports how many inert credential rows one sweep removed.
type Result struct {
	DeletedSessions      int64 `json:"deleted_sessions"`
	DeletedResetTokens   int64 `json:"deleted_reset_tokens"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

// CleanupHandler garbage-collects expired sessions, stale reset tokens, and
// old login attempts. Expiry is enforced at query time everywhere else, so
// the rows are inert before they are deleted here.
type CleanupHandler struct {
	sessions              *auth.SessionManager
	resets                *auth.ResetManager
	repo                  *auth.Repository
	logger                *observability.Logger
	cronSecret            string
	sessionRetention      time.Duration
	loginAttemptRetention time.Duration
	batchSize             int
}

func NewCleanupHandler(
	sessions *auth.SessionManager,
	resets *auth.ResetManager,
	repo *auth.Repository,
	logger *observability.Logger,
	cronSecret string,
	sessionRetention time.Duration,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if sessionRetention <= 0 {
		sessionRetention = 24 * time.Hour
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	return &CleanupHandler{
		sessions:              sessions,
		resets:                resets,
		repo:                  repo,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		sessionRetention:      sessionRetention,
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
	}
}

// Run executes one sweep. The server also calls this once at startup.
func (h *CleanupHandler) Run(ctx context.Context) (Result, error) {
	deletedSessions, err := h.sessions.DeleteExpired(ctx, h.sessionRetention, h.batchSize)
	if err != nil {
		return Result{}, err
	}

	deletedResets, err := h.resets.DeleteStale(ctx, h.batchSize)
	if err != nil {
		return Result{}, err
	}

	attemptCutoff := time.Now().UTC().Add(-h.loginAttemptRetention)
	deletedAttempts, err := h.repo.DeleteOldLoginAttempts(ctx, attemptCutoff, h.batchSize)
	if err != nil {
		return Result{}, err
	}

	return Result{
		DeletedSessions:      deletedSessions,
		DeletedResetTokens:   deletedResets,
		DeletedLoginAttempts: deletedAttempts,
	}, nil
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		h.logger.Error("credential_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("credential_cleanup_completed", map[string]any{
		"deleted_sessions":       result.DeletedSessions,
		"deleted_reset_tokens":   result.DeletedResetTokens,
		"deleted_login_attempts": result.DeletedLoginAttempts,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
