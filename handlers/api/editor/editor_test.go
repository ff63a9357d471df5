package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	authgw "retouch-complete/auth"
	"retouch-complete/core"
	editorpkg "retouch-complete/editor"
	"retouch-complete/generation"
	"retouch-complete/handlers/api/gallery"
	"retouch-complete/middleware"
	"retouch-complete/raster"
	"retouch-complete/stores/memory"
)

// stubGenerator lets each test decide how the generation service behaves.
type stubGenerator struct {
	err error
}

func (g *stubGenerator) RequestEdit(ctx context.Context, img, mask image.Image, prompt string) (*image.NRGBA, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := image.NewNRGBA(image.Rect(0, 0, raster.FrameSize, raster.FrameSize))
	for i := range out.Pix {
		out.Pix[i] = 0xff
	}
	return out, nil
}

type env struct {
	router *chi.Mux
	cookie *http.Cookie
	gen    *stubGenerator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memory.NewStore()
	gateway := authgw.NewGateway(store, []byte("test-secret"))
	cookies := authgw.NewCookieStore(false)
	gen := &stubGenerator{}
	workflows := editorpkg.NewManager(gen)

	r := chi.NewRouter()
	r.Route("/api/v2", func(r chi.Router) {
		r.Use(middleware.SessionAuth(cookies, gateway))
		r.Route("/editor", func(r chi.Router) {
			r.Get("/", HandleState(workflows))
			r.Post("/image", HandleUpload(workflows))
			r.Post("/crop", HandleCrop(workflows))
			r.Post("/recrop", HandleRecrop(workflows))
			r.Put("/selection", HandleSelection(workflows))
			r.Post("/generate", HandleGenerate(workflows))
			r.Get("/download", HandleDownload(workflows))
			r.Post("/save", HandleSave(workflows, editStore(store)))
		})
		r.Route("/gallery", func(r chi.Router) {
			r.Get("/", gallery.HandleList(editStore(store)))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", gallery.HandleGet(editStore(store)))
				r.Delete("/", gallery.HandleDelete(editStore(store)))
			})
		})
	})

	_, token, err := gateway.Signup(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	return &env{
		router: r,
		cookie: &http.Cookie{Name: "session_token", Value: token},
		gen:    gen,
	}
}

// editStore narrows the memory store to the EditStore interface.
func editStore(s core.EditStore) core.EditStore { return s }

func (e *env) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.AddCookie(e.cookie)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	return e.do(t, method, path, strings.NewReader(body), "application/json")
}

func (e *env) uploadImage(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 9, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encoding upload: %v", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	fw.Write(pngBuf.Bytes())
	w.Close()

	return e.do(t, http.MethodPost, "/api/v2/editor/image", &body, w.FormDataContentType())
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) editorpkg.State {
	t.Helper()
	var st editorpkg.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding state from %s: %v", rec.Body.String(), err)
	}
	return st
}

func TestEditorRequiresSession(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/editor", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestEditorHappyPath(t *testing.T) {
	e := newEnv(t)

	// Initial state.
	st := decodeState(t, e.do(t, http.MethodGet, "/api/v2/editor", nil, ""))
	if st.Mode != editorpkg.ModeUpload {
		t.Fatalf("fresh workflow should be in upload mode, got %s", st.Mode)
	}

	// Upload -> crop.
	rec := e.uploadImage(t)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}
	if st := decodeState(t, rec); st.Mode != editorpkg.ModeCrop {
		t.Fatalf("expected crop mode after upload, got %s", st.Mode)
	}

	// Selection before crop is an invalid transition.
	rec = e.doJSON(t, http.MethodPut, "/api/v2/editor/selection", `{"x":0,"y":0,"width":10,"height":10}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for selection in crop mode, got %d", rec.Code)
	}

	// Crop -> select.
	rec = e.doJSON(t, http.MethodPost, "/api/v2/editor/crop", `{"scale":1,"offsetX":0,"offsetY":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("crop failed: %d %s", rec.Code, rec.Body.String())
	}
	if st := decodeState(t, rec); st.Mode != editorpkg.ModeSelect {
		t.Fatalf("expected select mode after crop, got %s", st.Mode)
	}

	// Zero-area selection is rejected.
	rec = e.doJSON(t, http.MethodPut, "/api/v2/editor/selection", `{"x":5,"y":5,"width":0,"height":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty selection, got %d", rec.Code)
	}

	// Valid selection.
	rec = e.doJSON(t, http.MethodPut, "/api/v2/editor/selection", `{"x":100,"y":100,"width":200,"height":200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("selection failed: %d %s", rec.Code, rec.Body.String())
	}

	// Generate.
	rec = e.doJSON(t, http.MethodPost, "/api/v2/editor/generate", `{"prompt":"add a hat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate failed: %d %s", rec.Code, rec.Body.String())
	}
	st = decodeState(t, rec)
	if st.Mode != editorpkg.ModeSelect || len(st.History) != 1 || st.History[0] != "add a hat" {
		t.Fatalf("unexpected state after generate: %+v", st)
	}

	// Download the edited image.
	rec = e.do(t, http.MethodGet, "/api/v2/editor/download", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download failed: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("expected image/png, got %s", got)
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Errorf("download is not a decodable PNG: %v", err)
	}
}

func TestGenerateFailureSurfacesAndKeepsState(t *testing.T) {
	e := newEnv(t)
	e.uploadImage(t)
	e.doJSON(t, http.MethodPost, "/api/v2/editor/crop", `{"scale":1}`)
	e.doJSON(t, http.MethodPut, "/api/v2/editor/selection", `{"x":10,"y":10,"width":50,"height":50}`)

	e.gen.err = &generation.Error{Reason: generation.ReasonContent, Status: 400, Message: "prompt violates policy"}
	rec := e.doJSON(t, http.MethodPost, "/api/v2/editor/generate", `{"prompt":"something"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for failed generation, got %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "prompt violates policy") {
		t.Errorf("service failure should be surfaced verbatim, got %s", rec.Body.String())
	}

	st := decodeState(t, e.do(t, http.MethodGet, "/api/v2/editor", nil, ""))
	if st.Mode != editorpkg.ModeSelect || len(st.History) != 0 {
		t.Fatalf("failed generation must leave state untouched: %+v", st)
	}

	// Manual retry works once the service recovers.
	e.gen.err = nil
	rec = e.doJSON(t, http.MethodPost, "/api/v2/editor/generate", `{"prompt":"something"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, _ := w.CreateFormFile("image", "notes.txt")
	fw.Write([]byte("plain text"))
	w.Close()

	rec := e.do(t, http.MethodPost, "/api/v2/editor/image", &body, w.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-image upload, got %d", rec.Code)
	}
}

func TestSaveAndGalleryRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.uploadImage(t)
	e.doJSON(t, http.MethodPost, "/api/v2/editor/crop", `{"scale":1}`)
	e.doJSON(t, http.MethodPut, "/api/v2/editor/selection", `{"x":10,"y":10,"width":50,"height":50}`)
	e.doJSON(t, http.MethodPost, "/api/v2/editor/generate", `{"prompt":"add a hat"}`)

	rec := e.do(t, http.MethodPost, "/api/v2/editor/save", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("save failed: %d %s", rec.Code, rec.Body.String())
	}
	var saved struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil || saved.ID == "" {
		t.Fatalf("save did not return an id: %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v2/gallery/", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("gallery list failed: %d", rec.Code)
	}
	var results []core.EditResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decoding gallery list: %v", err)
	}
	if len(results) != 1 || results[0].Prompt != "add a hat" {
		t.Fatalf("unexpected gallery contents: %+v", results)
	}
	if len(results[0].Image) != 0 {
		t.Error("gallery list must not include image blobs")
	}

	rec = e.do(t, http.MethodGet, "/api/v2/gallery/"+saved.ID, nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("gallery get failed: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = e.do(t, http.MethodDelete, "/api/v2/gallery/"+saved.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("gallery delete failed: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/v2/gallery/", nil, "")
	results = nil
	json.Unmarshal(rec.Body.Bytes(), &results)
	if len(results) != 0 {
		t.Fatalf("gallery should be empty after delete: %+v", results)
	}
}

func TestSaveBeforeCrop(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v2/editor/save", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 saving before crop, got %d", rec.Code)
	}
}
