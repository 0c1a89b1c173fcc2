package database

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"seedream-studio-server/modules/common/config"
	"seedream-studio-server/modules/common/model"
)

type restCall struct {
	method string
	query  url.Values
	body   []byte
	prefer string
}

func newTestClient(t *testing.T, respond string) (*Client, func() []restCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []restCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/images" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, restCall{method: r.Method, query: r.URL.Query(), body: body, prefer: r.Header.Get("Prefer")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, respond)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(&config.Config{SupabaseURL: srv.URL, SupabaseServiceKey: "service-key"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, func() []restCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]restCall(nil), calls...)
	}
}

func TestClient_CreateImageRecord(t *testing.T) {
	c, calls := newTestClient(t, `[{"id":"img-1","user_id":"u1","image_url":"https://s/1.png","liked":false,"deleted":false}]`)

	row, err := c.CreateImageRecord(context.Background(), &model.GalleryImage{
		UserID:      "u1",
		UserName:    "Ada",
		Prompt:      "a fox",
		ImageURL:    "https://s/1.png",
		OriginalURL: "https://tmp/1.png",
		Size:        "2K",
		Mode:        "text",
	})
	if err != nil {
		t.Fatalf("CreateImageRecord() error = %v", err)
	}
	if row.ID != "img-1" {
		t.Errorf("row = %+v", row)
	}

	got := calls()
	if len(got) != 1 || got[0].method != http.MethodPost {
		t.Fatalf("calls = %+v", got)
	}
	var sent map[string]any
	json.Unmarshal(got[0].body, &sent)
	if sent["user_name"] != "Ada" || sent["original_url"] != "https://tmp/1.png" {
		t.Errorf("insert body = %s", got[0].body)
	}
	if _, ok := sent["id"]; ok {
		t.Errorf("insert body carries an id: %s", got[0].body)
	}
	if got[0].prefer != "return=representation" {
		t.Errorf("Prefer = %q", got[0].prefer)
	}
}

func TestClient_ListUserImages_Filters(t *testing.T) {
	tests := []struct {
		filter      string
		wantLiked   string
		wantDeleted string
	}{
		{FilterAll, "", "eq.false"},
		{FilterLiked, "eq.true", "eq.false"},
		{FilterDeleted, "", "eq.true"},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			c, calls := newTestClient(t, `[{"id":"a"},{"id":"b"}]`)

			images, err := c.ListUserImages(context.Background(), "u1", tt.filter)
			if err != nil {
				t.Fatalf("ListUserImages() error = %v", err)
			}
			if len(images) != 2 {
				t.Errorf("images = %d", len(images))
			}

			q := calls()[0].query
			if q.Get("user_id") != "eq.u1" || q.Get("liked") != tt.wantLiked || q.Get("deleted") != tt.wantDeleted {
				t.Errorf("query = %v", q)
			}
			if q.Get("order") != "created_at.desc.nullslast" {
				t.Errorf("order = %q", q.Get("order"))
			}
		})
	}
}

func TestClient_ListPublicImages(t *testing.T) {
	c, calls := newTestClient(t, `[]`)

	images, err := c.ListPublicImages(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListPublicImages() error = %v", err)
	}
	if images == nil || len(images) != 0 {
		t.Errorf("images = %#v, want empty slice", images)
	}
	q := calls()[0].query
	if q.Get("limit") != "50" || q.Get("deleted") != "eq.false" {
		t.Errorf("query = %v", q)
	}
}

func TestClient_Mutations(t *testing.T) {
	c, calls := newTestClient(t, `[]`)
	ctx := context.Background()

	if err := c.SetLiked(ctx, "img-9", true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeleted(ctx, "img-9", true); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteImage(ctx, "img-9"); err != nil {
		t.Fatal(err)
	}

	got := calls()
	wantMethods := []string{http.MethodPatch, http.MethodPatch, http.MethodDelete}
	for i, call := range got {
		if call.method != wantMethods[i] {
			t.Errorf("call %d method = %s, want %s", i, call.method, wantMethods[i])
		}
		if call.query.Get("id") != "eq.img-9" {
			t.Errorf("call %d query = %v", i, call.query)
		}
	}
	if string(got[0].body) != `{"liked":true}` || string(got[1].body) != `{"deleted":true}` {
		t.Errorf("update bodies = %s / %s", got[0].body, got[1].body)
	}
}

func TestValidFilter(t *testing.T) {
	for _, f := range []string{"all", "liked", "deleted"} {
		if !ValidFilter(f) {
			t.Errorf("ValidFilter(%q) = false", f)
		}
	}
	if ValidFilter("shared") {
		t.Error("ValidFilter(shared) = true")
	}
}
