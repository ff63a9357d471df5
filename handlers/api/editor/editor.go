package editor

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"retouch-complete/core"
	"retouch-complete/editor"
	"retouch-complete/generation"
	"retouch-complete/middleware"
	"retouch-complete/raster"
)

// maxUploadBytes bounds the multipart upload size.
const maxUploadBytes = 20 << 20

// HandleState reports the workflow snapshot for the signed-in user.
func HandleState(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}
		render.JSON(w, r, workflows.Get(session.UserID).State())
	}
}

// HandleUpload accepts a multipart image upload and moves the workflow into
// crop mode.
func HandleUpload(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, _, err := r.FormFile("image")
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "An image file is required"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Failed to read image upload"})
			return
		}

		flow := workflows.Get(session.UserID)
		if err := flow.Upload(data); err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}
		render.JSON(w, r, flow.State())
	}
}

// HandleCrop confirms the crop with the viewport transform from the body.
func HandleCrop(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		transform := raster.Identity()
		if err := render.DecodeJSON(r.Body, &transform); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}

		flow := workflows.Get(session.UserID)
		if err := flow.ConfirmCrop(transform); err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}
		render.JSON(w, r, flow.State())
	}
}

// HandleRecrop re-enters crop mode from select mode.
func HandleRecrop(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}
		flow := workflows.Get(session.UserID)
		if err := flow.Recrop(); err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}
		render.JSON(w, r, flow.State())
	}
}

// HandleSelection replaces the selection rectangle.
func HandleSelection(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		var sel editor.Selection
		if err := render.DecodeJSON(r.Body, &sel); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}

		flow := workflows.Get(session.UserID)
		if err := flow.SetSelection(sel); err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}
		render.JSON(w, r, flow.State())
	}
}

// HandleGenerate runs a generation for the current selection and prompt.
// The request blocks for the round trip to the generation service.
func HandleGenerate(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}

		flow := workflows.Get(session.UserID)
		if err := flow.Generate(r.Context(), body.Prompt); err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}
		render.JSON(w, r, flow.State())
	}
}

// HandleDownload streams the current image as PNG. In crop mode the
// transform comes from query parameters; afterwards the working image is
// returned as is.
func HandleDownload(workflows *editor.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		data, err := workflows.Get(session.UserID).Download(transformFromQuery(r))
		if err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", `attachment; filename="image.png"`)
		w.Write(data)
	}
}

// HandleSave snapshots the working image and its prompt history into the
// gallery.
func HandleSave(workflows *editor.Manager, store core.EditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		imageData, history, err := workflows.Get(session.UserID).Snapshot()
		if err != nil {
			renderWorkflowError(w, r, session.UserID, err)
			return
		}

		result := &core.EditResult{
			ID:        ulid.Make().String(),
			UserID:    session.UserID,
			History:   history,
			Image:     imageData,
			CreatedAt: time.Now(),
		}
		if len(history) > 0 {
			result.Prompt = history[len(history)-1]
		}
		if err := store.Save(r.Context(), result); err != nil {
			logrus.WithError(err).WithField("user_id", session.UserID).Error("Failed to save edit result")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save edit result"})
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]string{"id": result.ID})
	}
}

func transformFromQuery(r *http.Request) raster.Transform {
	t := raster.Identity()
	if v, err := strconv.ParseFloat(r.URL.Query().Get("scale"), 64); err == nil {
		t.Scale = v
	}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("offsetX"), 64); err == nil {
		t.OffsetX = v
	}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("offsetY"), 64); err == nil {
		t.OffsetY = v
	}
	return t
}

// renderWorkflowError maps workflow and pipeline failures to boundary
// responses with the stable {error: string} shape.
func renderWorkflowError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	var genErr *generation.Error
	switch {
	case errors.Is(err, editor.ErrBusy):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]string{"error": "A generation is already in progress"})
	case errors.Is(err, editor.ErrInvalidState):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]string{"error": "Operation not valid in current editor mode"})
	case errors.Is(err, editor.ErrInvalidSelection), errors.Is(err, raster.ErrInvalidRect):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Selection must cover a non-empty area inside the image"})
	case errors.Is(err, editor.ErrEmptyPrompt):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Prompt must not be empty"})
	case errors.Is(err, raster.ErrDecode):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Unsupported or corrupt image"})
	case errors.As(err, &genErr):
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"reason":  genErr.Reason,
		}).Warn("Generation request failed")
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, map[string]string{"error": genErr.Message})
	default:
		logrus.WithError(err).WithField("user_id", userID).Error("Editor operation failed")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Internal server error"})
	}
}
