package httputil_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-backend/pkg/actor"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/clinicore/clinicore-backend/pkg/httputil"
)

func TestError_MapsAppErrorToStatusAndBody(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", errors.NotFound("batch"), http.StatusNotFound, "NOT_FOUND"},
		{"insufficient stock", errors.InsufficientStock(map[string]string{"m1": "requested 10, available 5"}), http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK"},
		{"busy", errors.Busy("batch locked"), http.StatusConflict, "BUSY"},
		{"inconsistent state", errors.InconsistentState("b1"), http.StatusInternalServerError, "INCONSISTENT_STATE"},
		{"unknown error", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			httputil.Error(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)

			var resp httputil.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestError_CarriesShortfallDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.Error(rec, errors.InsufficientStock(map[string]string{
		"med-a": "requested 10, available 2",
		"med-b": "requested 5, available 0",
	}))

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Len(t, resp.Error.Details, 2)
	assert.Equal(t, "requested 10, available 2", resp.Error.Details["med-a"])
}

func TestActorMiddleware_RejectsAnonymousRequests(t *testing.T) {
	handler := httputil.ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/prescriptions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActorMiddleware_PopulatesActorFromHeaders(t *testing.T) {
	var got *actor.Actor
	handler := httputil.ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = actor.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/medicines", nil)
	req.Header.Set("X-User-ID", "9a000000-0000-0000-0000-000000000001")
	req.Header.Set("X-User-Name", "Dr. Example")
	req.Header.Set("X-User-Role", "clinician")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "9a000000-0000-0000-0000-000000000001", got.ID)
	assert.Equal(t, "Dr. Example", got.Name)
	assert.Equal(t, "clinician", got.RoleName)
}

func TestActorMiddleware_HealthIsOpen(t *testing.T) {
	handler := httputil.ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	var inCtx string
	handler := httputil.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = httputil.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, inCtx)
	assert.Equal(t, inCtx, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_PropagatedWhenPresent(t *testing.T) {
	handler := httputil.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
