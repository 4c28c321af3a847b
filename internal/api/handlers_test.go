package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emohandesi/OutlineKeyGenerator/internal/domain"
	"github.com/emohandesi/OutlineKeyGenerator/internal/persistence/sqlite"
)

var testNow = time.Date(2025, time.November, 14, 9, 0, 0, 0, time.UTC)

type testService struct {
	mux   *http.ServeMux
	store *sqlite.Store
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tracker := domain.NewTracker(store,
		domain.WithClock(func() time.Time { return testNow }),
	)
	handler := NewHandler(tracker, zerolog.Nop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &testService{mux: mux, store: store}
}

func (s *testService) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
}

func clientCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "client_id" {
			return c
		}
	}
	t.Fatalf("no client_id cookie in response")
	return nil
}

func TestHealthAssignsAndReusesClientToken(t *testing.T) {
	svc := newTestService(t)

	// First call: no cookie, so a token is minted and counted.
	rr := svc.do(t, http.MethodPost, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var first healthResponse
	decodeBody(t, rr, &first)
	require.Equal(t, "healthy", first.Status)
	require.True(t, first.NewClient)
	require.Equal(t, 1, first.DailyActiveUsers)
	require.Equal(t, 1, first.MonthlyActiveUsers)

	cookie := clientCookie(t, rr)
	require.NotEmpty(t, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, 365*24*60*60, cookie.MaxAge)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.False(t, cookie.Secure)

	// Second call with the cookie: same client, count unchanged.
	rr = svc.do(t, http.MethodPost, "/health", "", cookie)
	var second healthResponse
	decodeBody(t, rr, &second)
	require.False(t, second.NewClient)
	require.Equal(t, 1, second.DailyActiveUsers)
	require.Empty(t, rr.Result().Cookies())

	// Third call without a cookie: a second distinct client.
	rr = svc.do(t, http.MethodPost, "/health", "", nil)
	var third healthResponse
	decodeBody(t, rr, &third)
	require.True(t, third.NewClient)
	require.Equal(t, 2, third.DailyActiveUsers)
}

func TestKeepaliveIsAnAliasForHealth(t *testing.T) {
	svc := newTestService(t)

	rr := svc.do(t, http.MethodPost, "/keepalive", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, "healthy", resp.Status)
	require.True(t, resp.NewClient)
	require.Equal(t, 1, resp.DailyActiveUsers)
}

func TestHealthGroupsByServerTag(t *testing.T) {
	svc := newTestService(t)

	svc.do(t, http.MethodPost, "/health", `{"server":"eu-1"}`, nil)
	svc.do(t, http.MethodPost, "/health", `{"server":"eu-1"}`, nil)
	rr := svc.do(t, http.MethodPost, "/health", "", nil)

	var resp healthResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, 3, resp.DailyActiveUsers)
	require.Len(t, resp.DailyByServer, 2)
	require.Equal(t, serverCountView{Server: "eu-1", Count: 2}, resp.DailyByServer[0])
	require.Equal(t, serverCountView{Server: "unknown", Count: 1}, resp.DailyByServer[1])
}

func TestHealthToleratesMalformedBody(t *testing.T) {
	svc := newTestService(t)

	rr := svc.do(t, http.MethodPost, "/health", `{"server": 12`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, 1, resp.DailyActiveUsers)
	require.Equal(t, "unknown", resp.DailyByServer[0].Server)
}

func TestHealthRejectsWrongMethod(t *testing.T) {
	svc := newTestService(t)

	rr := svc.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	var resp map[string]string
	decodeBody(t, rr, &resp)
	require.Equal(t, "Method not allowed", resp["error"])
}

func TestStatsReportsTotalsAndBreakdown(t *testing.T) {
	svc := newTestService(t)

	svc.do(t, http.MethodPost, "/health", `{"server":"eu-1"}`, nil)
	svc.do(t, http.MethodPost, "/health", "", nil)
	seedRecord(t, svc.store, "older", domain.NoDimension(), testNow.AddDate(0, 0, -2))

	rr := svc.do(t, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statsResponse
	decodeBody(t, rr, &resp)
	require.True(t, resp.Success)
	require.Equal(t, 3, resp.Data.TotalUniqueUsers)
	require.Equal(t, 2, resp.Data.DailyActiveUsers)
	require.Equal(t, 3, resp.Data.MonthlyActiveUsers)

	require.Len(t, resp.Data.DailyBreakdown, 2)
	require.Equal(t, "2025-11-14", resp.Data.DailyBreakdown[0].Date)
	require.Equal(t, 2, resp.Data.DailyBreakdown[0].Users)
	require.Equal(t, "2025-11-12", resp.Data.DailyBreakdown[1].Date)

	_, err := time.Parse(time.RFC3339, resp.Data.Timestamp)
	require.NoError(t, err)
}

func TestCleanupDeletesOnlyExpiredRecords(t *testing.T) {
	svc := newTestService(t)

	seedRecord(t, svc.store, "edge", domain.NoDimension(), testNow.AddDate(0, 0, -90))
	seedRecord(t, svc.store, "stale-1", domain.NoDimension(), testNow.AddDate(0, 0, -91))
	seedRecord(t, svc.store, "stale-2", domain.NoDimension(), testNow.AddDate(0, 0, -100))

	rr := svc.do(t, http.MethodPost, "/cleanup", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp cleanupResponse
	decodeBody(t, rr, &resp)
	require.True(t, resp.Success)
	require.Equal(t, int64(2), resp.DeletedCount)
	require.Equal(t, "Cleaned up 2 old records", resp.Message)
}

func TestCleanupWithZeroRetentionDeletesEverythingBeforeToday(t *testing.T) {
	svc := newTestService(t)

	seedRecord(t, svc.store, "today", domain.NoDimension(), testNow)
	seedRecord(t, svc.store, "yesterday", domain.NoDimension(), testNow.AddDate(0, 0, -1))
	seedRecord(t, svc.store, "last-week", domain.NoDimension(), testNow.AddDate(0, 0, -7))

	rr := svc.do(t, http.MethodPost, "/cleanup", `{"days_to_keep": 0}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp cleanupResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, int64(2), resp.DeletedCount)
}

func TestCleanupRejectsNegativeRetention(t *testing.T) {
	svc := newTestService(t)

	rr := svc.do(t, http.MethodPost, "/cleanup", `{"days_to_keep": -1}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var resp failureResponse
	decodeBody(t, rr, &resp)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Error)
}

func TestCleanupRejectsNonIntegerRetention(t *testing.T) {
	svc := newTestService(t)

	for _, body := range []string{`{"days_to_keep": "soon"}`, `{"days_to_keep": 1.5}`} {
		rr := svc.do(t, http.MethodPost, "/cleanup", body, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, "body %s", body)
	}
}

func TestUnknownEndpointAnswersJSONNotFound(t *testing.T) {
	svc := newTestService(t)

	rr := svc.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	var resp map[string]string
	decodeBody(t, rr, &resp)
	require.Equal(t, "Endpoint not found", resp["error"])
}

func TestRecovererAnswersGenericError(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	wrapped := Recoverer(zerolog.Nop())(panicking)

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var resp map[string]string
	decodeBody(t, rr, &resp)
	require.Equal(t, "Internal server error", resp["error"])
}

func seedRecord(t *testing.T, store *sqlite.Store, clientID string, dim domain.Dimension, seenAt time.Time) {
	t.Helper()
	require.NoError(t, store.InsertIgnore(context.Background(), domain.ActivityRecord{
		ClientID:  clientID,
		Dimension: dim,
		LastSeen:  seenAt,
		Day:       domain.DayOf(seenAt),
	}))
}
