package gallery

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"retouch-complete/core"
	"retouch-complete/middleware"
)

// HandleList returns metadata for every saved result owned by the user.
func HandleList(store core.EditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		results, err := store.List(r.Context(), session.UserID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": session.UserID,
			}).Error("Failed to list edit results")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list edit results"})
			return
		}

		// If the user has no saved results, return an empty slice instead of null.
		if results == nil {
			results = []*core.EditResult{}
		}
		render.JSON(w, r, results)
	}
}

// HandleGet streams a single saved result's image.
func HandleGet(store core.EditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Result id is required"})
			return
		}

		result, err := store.Get(r.Context(), session.UserID, id)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": session.UserID,
				"id":      id,
			}).Warn("Failed to get edit result")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Edit result not found"})
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Write(result.Image)
	}
}

// HandleDelete removes a saved result.
func HandleDelete(store core.EditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Session not found"})
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Result id is required"})
			return
		}

		if err := store.Delete(r.Context(), session.UserID, id); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": session.UserID,
				"id":      id,
			}).Error("Failed to delete edit result")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete edit result"})
			return
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"message": "Deleted"})
	}
}
