package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type fakeMediaStore struct {
	userID int64
	file   []byte
	err    error
}

func (f *fakeMediaStore) ResolveURL(ctx context.Context, location string) (string, error) {
	return location, nil
}

func (f *fakeMediaStore) Upload(ctx context.Context, userID int64, file []byte) (*models.MediaRef, error) {
	f.userID = userID
	f.file = file
	if f.err != nil {
		return nil, f.err
	}
	return &models.MediaRef{Location: "7/abc.mp4", Type: models.MediaTypeVideo}, nil
}

func newMediaApp(store service.MediaStore) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "7")
		return c.Next()
	})
	app.Post("/media", NewMediaHandler(store).UploadMedia)
	return app
}

func multipartRequest(t *testing.T, field string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/media", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadMedia(t *testing.T) {
	store := &fakeMediaStore{}
	app := newMediaApp(store)

	resp, err := app.Test(multipartRequest(t, "file", []byte("video-bytes")))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var got transfer.MediaUploadResponse
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ContentLocation != "7/abc.mp4" || got.MediaType != "VIDEO" {
		t.Errorf("unexpected response %+v", got)
	}
	if store.userID != 7 || string(store.file) != "video-bytes" {
		t.Errorf("upload not passed through: user %d file %q", store.userID, store.file)
	}
}

func TestUploadMedia_MissingFile(t *testing.T) {
	app := newMediaApp(&fakeMediaStore{})

	resp, err := app.Test(multipartRequest(t, "other", []byte("x")))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadMedia_Unsupported(t *testing.T) {
	app := newMediaApp(&fakeMediaStore{err: service.ErrUnsupportedMedia})

	resp, err := app.Test(multipartRequest(t, "file", []byte("text")))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", resp.StatusCode)
	}
}
