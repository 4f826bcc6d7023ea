package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
)

type bookmarkRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type listResponse struct {
	Bookmarks []domain.Bookmark `json:"bookmarks"`
}

type importResponse struct {
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}

// ListBookmarks returns the caller's bookmarks, newest first.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())

		list, err := d.Backend.List(r.Context(), id.ID)
		if err != nil {
			d.Logger.Error("failed to list bookmarks",
				logger.String("user_id", id.ID),
				logger.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to list bookmarks")
			return
		}
		if list == nil {
			list = []domain.Bookmark{}
		}
		writeJSON(w, http.StatusOK, listResponse{Bookmarks: list})
	}
}

// CreateBookmark inserts a bookmark for the caller. Open dashboards learn
// about it through the change feed.
func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())

		var req bookmarkRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		nb := domain.NewBookmark{URL: req.URL, Title: req.Title, Owner: id.ID}
		if err := nb.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		b, err := d.Backend.Insert(r.Context(), nb)
		if err != nil {
			d.Logger.Error("failed to create bookmark",
				logger.String("user_id", id.ID),
				logger.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to create bookmark")
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

// DeleteBookmark removes one of the caller's bookmarks. Unknown ids succeed.
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())
		bookmarkID := chi.URLParam(r, "id")

		if err := d.Backend.Delete(r.Context(), id.ID, bookmarkID); err != nil {
			d.Logger.Error("failed to delete bookmark",
				logger.String("user_id", id.ID),
				logger.String("bookmark_id", bookmarkID),
				logger.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to delete bookmark")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ImportBookmarks inserts every entry of a Homepage bookmarks.yaml body.
// Entries are inserted one by one; a failure does not stop the rest.
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())

		config, err := homepage.Parse(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payloads, err := homepage.ToNewBookmarks(config, id.ID)
		if errors.Is(err, homepage.ErrNoBookmarks) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		resp := importResponse{}
		for _, nb := range payloads {
			if _, err := d.Backend.Insert(r.Context(), nb); err != nil {
				resp.Failed++
				d.Logger.Warn("import entry failed",
					logger.String("user_id", id.ID),
					logger.String("url", nb.URL),
					logger.Error(err))
				continue
			}
			resp.Imported++
		}

		d.Logger.Info("bookmarks imported",
			logger.String("user_id", id.ID),
			logger.Int("imported", resp.Imported),
			logger.Int("failed", resp.Failed))
		writeJSON(w, http.StatusOK, resp)
	}
}
