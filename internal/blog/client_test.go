package blog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/blogpilot/internal/errs"
)

func TestCreatePost(t *testing.T) {
	var got Post
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/posts" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if k := r.Header.Get("x-api-key"); k != "secret" {
			t.Errorf("x-api-key = %q", k)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"post":{"id":"p-1","slug":"slow-mornings","title":"Slow mornings","created_at":"2025-01-01T00:00:00Z"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", "")
	created, err := c.CreatePost(context.Background(), Post{
		Title: "Slow mornings", Excerpt: "e", Content: "<p>c</p>", Author: "A",
		CoverImage: "https://cdn/x.jpg", Published: true,
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if created.ID != "p-1" || created.Slug != "slow-mornings" {
		t.Errorf("created = %+v", created)
	}
	if !got.Published || got.Tags == nil {
		t.Errorf("payload = %+v; want published with non-nil tags", got)
	}
}

func TestCreatePost_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"post":{"slug":"x"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "").CreatePost(context.Background(), Post{})
	if err == nil || err.Error() != "Blog API response missing post.id" {
		t.Errorf("error = %v", err)
	}
}

func TestCreatePost_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "").CreatePost(context.Background(), Post{})
	if !errs.Is(err, errs.KindTransport) {
		t.Fatalf("error = %v, want transport kind", err)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "db down") {
		t.Errorf("error = %q, want status and body", err.Error())
	}
}

func TestCreatePost_NoAPIKey(t *testing.T) {
	_, err := NewClient("http://unused", "", "").CreatePost(context.Background(), Post{})
	if !errs.Is(err, errs.KindValidation) {
		t.Errorf("error = %v, want validation kind", err)
	}
}

func TestGetPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posts/p-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"post":{"id":"p-9","title":"T"}}`)
	}))
	defer srv.Close()

	raw, err := NewClient(srv.URL, "k", "").GetPost(context.Background(), "p-9")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	var p map[string]string
	json.Unmarshal(raw, &p)
	if p["id"] != "p-9" {
		t.Errorf("post = %s", raw)
	}
}

func TestUploadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/upload" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if p := r.Header.Get("x-admin-password"); p != "pw" {
			t.Errorf("x-admin-password = %q", p)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "jpegbytes" {
			t.Errorf("uploaded = %q", data)
		}
		if !strings.HasSuffix(hdr.Filename, ".jpg") {
			t.Errorf("filename = %q, want .jpg", hdr.Filename)
		}
		fmt.Fprint(w, `{"url":"https://cdn.example.com/covers/a.jpg"}`)
	}))
	defer srv.Close()

	u, err := NewClient(srv.URL, "", "pw").UploadImage(context.Background(), []byte("jpegbytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if u != "https://cdn.example.com/covers/a.jpg" {
		t.Errorf("url = %q", u)
	}
}

func TestUploadImage_MissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "pw").UploadImage(context.Background(), []byte("x"), "image/png")
	if err == nil || err.Error() != "Upload response missing url field" {
		t.Errorf("error = %v", err)
	}
}

func TestUploadImage_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"retryDelay":"4s"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "pw").UploadImage(context.Background(), []byte("x"), "image/png")
	if !errs.Is(err, errs.KindRateLimit) {
		t.Errorf("error = %v, want rate limit kind", err)
	}
}
