// Package api exposes the HTTP handlers for the user counter service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emohandesi/OutlineKeyGenerator/internal/domain"
)

const (
	// cookieName is the client-token cookie. Its value is the opaque
	// identifier activity is deduplicated on.
	cookieName = "client_id"
	// cookieMaxAge keeps the token for one year.
	cookieMaxAge = 365 * 24 * 60 * 60
)

// Handler coordinates HTTP requests with the activity tracker.
type Handler struct {
	tracker *domain.Tracker
	logger  zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(tracker *domain.Tracker, logger zerolog.Logger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

// RegisterRoutes wires endpoints to the mux. The root pattern catches every
// unmapped path so unknown endpoints answer JSON instead of the default 404.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/keepalive", h.health)
	mux.HandleFunc("/stats", h.stats)
	mux.HandleFunc("/cleanup", h.cleanup)
	mux.HandleFunc("/", h.notFound)
}

// health tracks a visit for the calling client and reports active-user
// counts. /keepalive is a pure alias.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// A missing or malformed body degrades to a visit with no server tag.
	var req healthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug().Err(err).Msg("ignoring malformed health request body")
	}
	dim := domain.NamedDimension(strings.TrimSpace(req.Server))

	clientID, isNew := h.clientToken(r)

	// Visit recording is best-effort telemetry; a storage failure must not
	// fail the health response.
	if err := h.tracker.RecordVisit(r.Context(), clientID, dim); err != nil {
		h.logger.Error().Err(err).Msg("failed to record visit")
	}

	counts := h.tracker.ActiveUsers(r.Context())

	if isNew {
		h.setClientCookie(w, clientID)
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "healthy",
		NewClient:          isNew,
		DailyActiveUsers:   counts.Daily,
		MonthlyActiveUsers: counts.Monthly,
		DailyByServer:      toServerCounts(counts.DailyByDimension),
		MonthlyByServer:    toServerCounts(counts.MonthlyByDimension),
	})
}

// stats reports historical user statistics.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userStats, err := h.tracker.UserStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load user statistics")
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: "failed to load user statistics"})
		return
	}

	counts := h.tracker.ActiveUsers(r.Context())

	breakdown := make([]dayCountView, 0, len(userStats.DailyBreakdown))
	for _, d := range userStats.DailyBreakdown {
		breakdown = append(breakdown, dayCountView{Date: d.Day.String(), Users: d.Count})
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Success: true,
		Data: statsData{
			TotalUniqueUsers:   userStats.TotalUnique,
			DailyBreakdown:     breakdown,
			DailyActiveUsers:   counts.Daily,
			MonthlyActiveUsers: counts.Monthly,
			DailyByServer:      toServerCounts(counts.DailyByDimension),
			MonthlyByServer:    toServerCounts(counts.MonthlyByDimension),
			Timestamp:          time.Now().Format(time.RFC3339),
		},
	})
}

// cleanup removes records older than the requested retention.
func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days := domain.DefaultRetentionDays
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		// Unlike health, a bad value here drives irreversible deletion, so
		// it is rejected instead of defaulted.
		writeJSON(w, http.StatusBadRequest, failureResponse{Error: "days_to_keep must be a non-negative integer"})
		return
	}
	if req.DaysToKeep != nil {
		days = *req.DaysToKeep
	}

	deleted, err := h.tracker.Cleanup(r.Context(), days)
	if errors.Is(err, domain.ErrInvalidRetention) {
		writeJSON(w, http.StatusBadRequest, failureResponse{Error: "days_to_keep must be a non-negative integer"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("cleanup failed")
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{
		Success:      true,
		Message:      fmt.Sprintf("Cleaned up %d old records", deleted),
		DeletedCount: deleted,
	})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, http.StatusNotFound, "Endpoint not found")
}

// clientToken reads the client token from the request cookie, minting a fresh
// one when absent. The second return reports whether the token is new.
func (h *Handler) clientToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return uuid.NewString(), true
}

func (h *Handler) setClientCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		// Secure is off by default; deployments behind HTTPS should front
		// this with a proxy that rewrites the cookie.
	})
}

// healthRequest is the optional payload for POST /health and /keepalive.
type healthRequest struct {
	Server string `json:"server"`
}

// healthResponse is the body for /health and /keepalive.
type healthResponse struct {
	Status             string            `json:"status"`
	NewClient          bool              `json:"new_client"`
	DailyActiveUsers   int               `json:"daily_active_users"`
	MonthlyActiveUsers int               `json:"monthly_active_users"`
	DailyByServer      []serverCountView `json:"daily_by_server"`
	MonthlyByServer    []serverCountView `json:"monthly_by_server"`
}

// cleanupRequest is the optional payload for POST /cleanup. DaysToKeep is a
// pointer so an absent field can fall back to the default.
type cleanupRequest struct {
	DaysToKeep *int `json:"days_to_keep"`
}

// cleanupResponse is the success body for /cleanup.
type cleanupResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

// statsResponse is the success body for /stats.
type statsResponse struct {
	Success bool      `json:"success"`
	Data    statsData `json:"data"`
}

type statsData struct {
	TotalUniqueUsers   int               `json:"total_unique_users"`
	DailyBreakdown     []dayCountView    `json:"daily_breakdown"`
	DailyActiveUsers   int               `json:"daily_active_users"`
	MonthlyActiveUsers int               `json:"monthly_active_users"`
	DailyByServer      []serverCountView `json:"daily_by_server"`
	MonthlyByServer    []serverCountView `json:"monthly_by_server"`
	Timestamp          string            `json:"timestamp"`
}

// serverCountView is one by-dimension aggregate entry. Records without a
// server tag report under the "unknown" label.
type serverCountView struct {
	Server string `json:"server"`
	Count  int    `json:"count"`
}

type dayCountView struct {
	Date  string `json:"date"`
	Users int    `json:"users"`
}

// failureResponse is the error envelope for /stats and /cleanup.
type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func toServerCounts(counts []domain.DimensionCount) []serverCountView {
	out := make([]serverCountView, 0, len(counts))
	for _, c := range counts {
		out = append(out, serverCountView{Server: c.Dimension.GroupLabel(), Count: c.Count})
	}
	return out
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
