package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"seedream-studio-server/modules/common/model"
)

type fakeStore struct {
	images      []model.GalleryImage
	publicCalls int
	lastFilter  string
	liked       map[string]bool
	deleted     map[string]bool
	removed     []string
	err         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		images:  []model.GalleryImage{{ID: "img-1", UserID: "user-1", Prompt: "fox"}},
		liked:   map[string]bool{},
		deleted: map[string]bool{},
	}
}

func (s *fakeStore) ListUserImages(ctx context.Context, userID, filter string) ([]model.GalleryImage, error) {
	s.lastFilter = filter
	return s.images, s.err
}

func (s *fakeStore) ListPublicImages(ctx context.Context, limit int) ([]model.GalleryImage, error) {
	s.publicCalls++
	return s.images, s.err
}

func (s *fakeStore) SetLiked(ctx context.Context, id string, liked bool) error {
	s.liked[id] = liked
	return s.err
}

func (s *fakeStore) SetDeleted(ctx context.Context, id string, deleted bool) error {
	s.deleted[id] = deleted
	return s.err
}

func (s *fakeStore) DeleteImage(ctx context.Context, id string) error {
	s.removed = append(s.removed, id)
	return s.err
}

func newRouter(store Store) *mux.Router {
	r := mux.NewRouter()
	NewHandler(store, time.Minute).RegisterRoutes(r)
	return r
}

func call(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandleList(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store)

	rec := call(r, "GET", "/api/images?userId=user-1", "")
	if rec.Code != http.StatusOK || store.lastFilter != "all" {
		t.Fatalf("status = %d, filter = %q", rec.Code, store.lastFilter)
	}
	var resp ImagesResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Images) != 1 || resp.Images[0].ID != "img-1" {
		t.Errorf("images = %+v", resp.Images)
	}

	if rec := call(r, "GET", "/api/images?userId=user-1&filter=liked", ""); rec.Code != http.StatusOK || store.lastFilter != "liked" {
		t.Errorf("liked filter = %d %q", rec.Code, store.lastFilter)
	}
	if rec := call(r, "GET", "/api/images?userId=user-1&filter=starred", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown filter = %d", rec.Code)
	}
	if rec := call(r, "GET", "/api/images", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing userId = %d", rec.Code)
	}

	store.err = errors.New("db down")
	if rec := call(r, "GET", "/api/images?userId=user-1", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure = %d", rec.Code)
	}
}

func TestHandlePublic_CachedUntilMutation(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store)

	call(r, "GET", "/api/images/public", "")
	call(r, "GET", "/api/images/public", "")
	if store.publicCalls != 1 {
		t.Fatalf("public calls = %d, want 1", store.publicCalls)
	}

	if rec := call(r, "POST", "/api/images/img-1/trash", ""); rec.Code != http.StatusOK {
		t.Fatalf("trash = %d", rec.Code)
	}
	call(r, "GET", "/api/images/public", "")
	if store.publicCalls != 2 {
		t.Errorf("public calls after mutation = %d, want 2", store.publicCalls)
	}
}

func TestMutations(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store)

	if rec := call(r, "POST", "/api/images/img-1/like", `{"liked":true}`); rec.Code != http.StatusOK || !store.liked["img-1"] {
		t.Errorf("like = %d %v", rec.Code, store.liked)
	}
	if rec := call(r, "POST", "/api/images/img-1/like", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("like without flag = %d", rec.Code)
	}

	call(r, "POST", "/api/images/img-2/trash", "")
	if !store.deleted["img-2"] {
		t.Error("trash did not soft-delete")
	}
	call(r, "POST", "/api/images/img-2/restore", "")
	if store.deleted["img-2"] {
		t.Error("restore did not clear the deleted flag")
	}

	if rec := call(r, "DELETE", "/api/images/img-3", ""); rec.Code != http.StatusOK || len(store.removed) != 1 || store.removed[0] != "img-3" {
		t.Errorf("delete = %d %v", rec.Code, store.removed)
	}

	store.err = errors.New("db down")
	if rec := call(r, "DELETE", "/api/images/img-4", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("failed delete = %d", rec.Code)
	}
}
