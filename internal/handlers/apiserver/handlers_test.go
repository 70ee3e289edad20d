package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studybuddy/internal/auth"
	"studybuddy/internal/config"
	"studybuddy/internal/middleware"
	"studybuddy/internal/models"
	"studybuddy/internal/services"
	"studybuddy/internal/storage"
)

// flakyStore fails every Update for the listed profile IDs.
type flakyStore struct {
	storage.ProfileStore
	failFor map[string]bool
}

func (f *flakyStore) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	if f.failFor[id] {
		return nil, fmt.Errorf("update %s: connection reset", id)
	}
	return f.ProfileStore.Update(ctx, id, patch)
}

type testAPI struct {
	router *mux.Router
	store  *flakyStore
}

// asUser stands in for AuthMiddleware: the X-User header becomes the token subject.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-User"); id != "" {
			claims := &auth.Claims{UserID: id, Username: id}
			r = r.WithContext(middleware.WithClaims(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	badger, err := storage.OpenBadgerProfileStore(storage.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = badger.Close() })

	store := &flakyStore{ProfileStore: badger, failFor: map[string]bool{}}
	logger := zap.NewNop()
	publisher := services.NoopPublisher()

	repair := services.NewRepairService(store, config.RepairConfig{ScanPageSize: 10, UpdateConcurrency: 2}, logger)
	profiles := services.NewProfileService(store, nil, logger)
	buddies := services.NewBuddyService(store, repair, nil, publisher, logger)
	moderation := services.NewModerationService(store, repair, publisher, logger)

	profileHandler := NewProfileHandler(profiles, 0, logger)
	buddyHandler := NewBuddyHandler(buddies, logger)
	reportHandler := NewReportHandler(nil, moderation, repair, logger)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(asUser)
	api.HandleFunc("/profiles", profileHandler.ListProfilesHandler).Methods(http.MethodGet)
	api.HandleFunc("/profiles/me", profileHandler.CreateMyProfileHandler).Methods(http.MethodPost)
	api.HandleFunc("/profiles/me", profileHandler.GetMyProfileHandler).Methods(http.MethodGet)
	api.HandleFunc("/profiles/me", profileHandler.UpdateMyProfileHandler).Methods(http.MethodPut)
	api.HandleFunc("/profiles/{userID}", profileHandler.GetProfileHandler).Methods(http.MethodGet)
	api.HandleFunc("/buddy", buddyHandler.CurrentBuddyHandler).Methods(http.MethodGet)
	api.HandleFunc("/buddy/leave", buddyHandler.LeaveHandler).Methods(http.MethodPost)
	api.HandleFunc("/buddy/requests", buddyHandler.PendingRequestsHandler).Methods(http.MethodGet)
	api.HandleFunc("/buddy/requests", buddyHandler.SendRequestHandler).Methods(http.MethodPost)
	api.HandleFunc("/buddy/requests/{userID}", buddyHandler.CancelRequestHandler).Methods(http.MethodDelete)
	api.HandleFunc("/buddy/requests/{userID}/accept", buddyHandler.AcceptRequestHandler).Methods(http.MethodPost)
	api.HandleFunc("/buddy/requests/{userID}/reject", buddyHandler.RejectRequestHandler).Methods(http.MethodPost)
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin(moderation, logger))
	admin.HandleFunc("/users/{userID}/ban", reportHandler.BanUserHandler).Methods(http.MethodPost)
	admin.HandleFunc("/users/{userID}/repair", reportHandler.RepairUserHandler).Methods(http.MethodPost)

	return &testAPI{router: r, store: store}
}

func (a *testAPI) do(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) createProfile(t *testing.T, id string) {
	t.Helper()
	rec := a.do(t, id, http.MethodPost, "/api/v1/profiles/me", map[string]interface{}{"username": id, "school": "State"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestProfileEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.createProfile(t, "amy")

	t.Run("duplicate create conflicts", func(t *testing.T) {
		rec := api.do(t, "amy", http.MethodPost, "/api/v1/profiles/me", map[string]string{"username": "amy"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := api.do(t, "amy", http.MethodPut, "/api/v1/profiles/me", map[string]string{"nickname": "a"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation limits", func(t *testing.T) {
		long := make([]string, 21)
		for i := range long {
			long[i] = "x"
		}
		rec := api.do(t, "amy", http.MethodPut, "/api/v1/profiles/me", map[string]interface{}{"interests": long})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update and read back", func(t *testing.T) {
		rec := api.do(t, "amy", http.MethodPut, "/api/v1/profiles/me", map[string]interface{}{"bio": "calc II", "interests": []string{"math"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = api.do(t, "bob", http.MethodGet, "/api/v1/profiles/amy", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[map[string]interface{}](t, rec)
		assert.Equal(t, "calc II", got["bio"])
		assert.Equal(t, "State", got["school"])
	})

	t.Run("missing profile", func(t *testing.T) {
		rec := api.do(t, "amy", http.MethodGet, "/api/v1/profiles/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, services.ErrProfileNotFound.Error(), decode[ErrorResponse](t, rec).Error)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := api.do(t, "", http.MethodGet, "/api/v1/profiles/me", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestProfileFinderPaging(t *testing.T) {
	api := newTestAPI(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		api.createProfile(t, id)
	}

	rec := api.do(t, "a", http.MethodGet, "/api/v1/profiles?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[services.ProfileListing](t, rec)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[0].ID, "caller is excluded")
	require.NotEmpty(t, page.NextPageToken)

	rec = api.do(t, "a", http.MethodGet, "/api/v1/profiles?limit=2&pageToken="+page.NextPageToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[services.ProfileListing](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "d", page.Items[0].ID)

	rec = api.do(t, "a", http.MethodGet, "/api/v1/profiles?pageToken=not*base64", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuddyFlow(t *testing.T) {
	api := newTestAPI(t)
	api.createProfile(t, "amy")
	api.createProfile(t, "bob")

	rec := api.do(t, "amy", http.MethodPost, "/api/v1/buddy/requests", map[string]string{"targetId": "amy"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "self request")

	rec = api.do(t, "amy", http.MethodPost, "/api/v1/buddy/requests", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing targetId")

	rec = api.do(t, "amy", http.MethodPost, "/api/v1/buddy/requests", map[string]string{"targetId": "bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, "amy", http.MethodPost, "/api/v1/buddy/requests", map[string]string{"targetId": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate request")

	rec = api.do(t, "bob", http.MethodGet, "/api/v1/buddy/requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[services.PendingRequests](t, rec)
	require.Len(t, pending.Received, 1)
	assert.Equal(t, "amy", pending.Received[0].ID)

	rec = api.do(t, "bob", http.MethodPost, "/api/v1/buddy/requests/amy/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, "amy", http.MethodGet, "/api/v1/buddy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[map[string]*models.UserBasicInfo](t, rec)
	require.NotNil(t, current["buddy"])
	assert.Equal(t, "bob", current["buddy"].ID)

	rec = api.do(t, "amy", http.MethodPost, "/api/v1/buddy/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "bob", http.MethodGet, "/api/v1/buddy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"buddy":null}`, rec.Body.String())
}

func TestBuddyRejectAndCancel_Idempotent(t *testing.T) {
	api := newTestAPI(t)
	api.createProfile(t, "amy")
	api.createProfile(t, "bob")

	rec := api.do(t, "bob", http.MethodPost, "/api/v1/buddy/requests/amy/reject", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "nothing pending is not an error")

	rec = api.do(t, "bob", http.MethodDelete, "/api/v1/buddy/requests/ghost", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "one missing side is tolerated")

	rec = api.do(t, "nobody", http.MethodDelete, "/api/v1/buddy/requests/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuddyAccept_PartialWrite(t *testing.T) {
	api := newTestAPI(t)
	api.createProfile(t, "amy")
	api.createProfile(t, "bob")
	rec := api.do(t, "amy", http.MethodPost, "/api/v1/buddy/requests", map[string]string{"targetId": "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	api.store.failFor["amy"] = true
	rec = api.do(t, "bob", http.MethodPost, "/api/v1/buddy/requests/amy/accept", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.True(t, body.Partial)
	assert.NotEmpty(t, body.Error)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	for _, id := range []string{"root", "amy", "bob"} {
		api.createProfile(t, id)
	}
	admin := true
	_, err := api.store.Update(context.Background(), "root", models.ProfilePatch{Admin: &admin})
	require.NoError(t, err)

	rec := api.do(t, "amy", http.MethodPost, "/api/v1/buddy/requests", map[string]string{"targetId": "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, "bob", http.MethodPost, "/api/v1/admin/users/amy/ban", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "non-admin")

	rec = api.do(t, "root", http.MethodPost, "/api/v1/admin/users/amy/ban", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[services.PurgeResult](t, rec)
	assert.Equal(t, 0, result.Failed)

	bob, err := api.store.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, bob.RequestIDs(), "banned user is purged from pending lists")

	rec = api.do(t, "root", http.MethodPost, "/api/v1/admin/users/bob/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteServiceError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{services.ErrSelfRequest, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", services.ErrNotAdmin), http.StatusForbidden},
		{services.ErrTaskNotFound, http.StatusNotFound},
		{services.ErrDuplicateReport, http.StatusConflict},
		{services.ErrImageTooLarge, http.StatusRequestEntityTooLarge},
		{services.ErrNoBlobStore, http.StatusServiceUnavailable},
		{&services.PartialWriteError{Op: "accept", Written: "a", Failed: "b", Err: errors.New("boom")}, http.StatusConflict},
		{errors.New("database is on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			writeServiceError(rec, req, zap.NewNop(), tc.err)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "fire", "internal details stay in the logs")
			}
		})
	}
}
