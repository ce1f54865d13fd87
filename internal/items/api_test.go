package items_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockroom-app/stockroom/internal/auth"
	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/shared"
)

type apiFixture struct {
	router http.Handler
	repo   *items.MemoryRepository
	images *memImages
	audit  *shared.MemoryAuditLog
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := items.NewMemoryRepository()
	images := newMemImages()
	issuer := auth.NewTokenIssuer("jwt-secret", time.Hour)
	token, _, err := issuer.Issue(&auth.User{ID: "user-1"})
	require.NoError(t, err)

	audit := shared.NewMemoryAuditLog()
	svc := items.NewService(repo, images, nil, nil, nil).WithAudit(audit)
	r := chi.NewRouter()
	items.NewAPIHandler(nil, svc, auth.NewTokenGuard(issuer, nil), items.WithIdempotency(shared.NewMemoryIdempotencyStore())).MountRoutes(r)
	return &apiFixture{router: r, repo: repo, images: images, audit: audit, token: token}
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *apiFixture) call(t *testing.T, method, path string, body any, authed bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	var env envelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &env))
	return res, env
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	res, env := f.call(t, http.MethodPost, "/api/items", items.Input{Name: "Widget", Price: "1"}, false)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "Access denied. No token provided.", env.Message)
	assert.Zero(t, f.repo.Count())

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIItemCRUD(t *testing.T) {
	f := newAPIFixture(t)

	res, env := f.call(t, http.MethodGet, "/api/items", nil, true)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	res, env = f.call(t, http.MethodPost, "/api/items", items.Input{Name: "Widget", Price: "9.99", Quantity: 2}, true)
	require.Equal(t, http.StatusCreated, res.Code)
	var created items.Item
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Widget", created.Name)

	res, env = f.call(t, http.MethodGet, "/api/items/1", nil, true)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Item retrieved successfully", env.Message)

	res, env = f.call(t, http.MethodPut, "/api/items/1", items.Input{Name: "Widget v2", Price: "10", Quantity: 1}, true)
	require.Equal(t, http.StatusOK, res.Code)
	var updated items.Item
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Widget v2", updated.Name)

	res, env = f.call(t, http.MethodDelete, "/api/items/1", nil, true)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Item deleted successfully", env.Message)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		res, env = f.call(t, method, "/api/items/1", nil, true)
		assert.Equal(t, http.StatusNotFound, res.Code)
		assert.Equal(t, "Item not found", env.Message)
	}
	res, _ = f.call(t, http.MethodPut, "/api/items/1", items.Input{Name: "x", Price: "1"}, true)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestAPIValidation(t *testing.T) {
	f := newAPIFixture(t)

	res, _ := f.call(t, http.MethodPost, "/api/items", items.Input{Price: "1"}, true)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = f.call(t, http.MethodPost, "/api/items", nil, true)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Zero(t, f.repo.Count())
}

func TestAPIMultipartCreate(t *testing.T) {
	f := newAPIFixture(t)

	body, ctype := multipartItem(t, map[string]string{"name": "Widget", "price": "1", "quantity": "2"}, "w.png", "img")
	req := httptest.NewRequest(http.MethodPost, "/api/items", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+f.token)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	require.Equal(t, http.StatusCreated, res.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &env))
	var created items.Item
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, f.images.has(created.Image))
	assert.Equal(t, "/uploads/"+created.Image, created.ImageURL)
}

func TestAPICreateHonoursIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	post := func(name string) *httptest.ResponseRecorder {
		raw, err := json.Marshal(items.Input{Name: name, Price: "2.00", Quantity: 1})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/items", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+f.token)
		req.Header.Set(items.IdempotencyHeader, "order-42")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	// A rejected request releases its key.
	assert.Equal(t, http.StatusBadRequest, post("").Code)
	assert.Equal(t, http.StatusCreated, post("Widget").Code)
	assert.Equal(t, http.StatusConflict, post("Widget").Code)
	assert.Equal(t, 1, f.repo.Count())
}

func TestAPIListPagination(t *testing.T) {
	f := newAPIFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		res, _ := f.call(t, http.MethodPost, "/api/items", items.Input{Name: name, Price: "1"}, true)
		require.Equal(t, http.StatusCreated, res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/items?page=2&per_page=2", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data       []items.Item      `json:"data"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "a", body.Data[0].Name)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 3, TotalPages: 2}, body.Pagination)

	res, _ := f.call(t, http.MethodGet, "/api/items", nil, true)
	assert.NotContains(t, res.Body.String(), "pagination")
}

func TestAPIChangesAreAuditedWithActor(t *testing.T) {
	f := newAPIFixture(t)
	res, env := f.call(t, http.MethodPost, "/api/items", items.Input{Name: "Widget", Price: "1"}, true)
	require.Equal(t, http.StatusCreated, res.Code)
	var created items.Item
	require.NoError(t, json.Unmarshal(env.Data, &created))

	res, _ = f.call(t, http.MethodDelete, "/api/items/"+strconv.FormatInt(created.ID, 10), nil, true)
	require.Equal(t, http.StatusOK, res.Code)

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "item.create", entries[0].Action)
	assert.Equal(t, "item.delete", entries[1].Action)
	for _, e := range entries {
		assert.Equal(t, "user-1", e.ActorID)
		assert.Equal(t, "item", e.Entity)
		assert.Equal(t, strconv.FormatInt(created.ID, 10), e.EntityID)
	}
}
