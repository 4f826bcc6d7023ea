package domain

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrMissingURL   = errors.New("bookmark url is required")
	ErrInvalidURL   = errors.New("bookmark url must be an absolute http(s) url")
	ErrMissingTitle = errors.New("bookmark title is required")
	ErrMissingOwner = errors.New("bookmark owner is required")
)

// Bookmark is a URL/title pair owned by a single identity.
//
// ID and CreatedAt are assigned by the store at insertion and never
// change afterwards. There is no update-in-place: a bookmark is either
// present or deleted.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (assigned by the store)
	// ─────────────────────────────

	// ID is the opaque unique identifier.
	// It is the only key used to match local state against change events.
	ID string `json:"id"`

	// ─────────────────────────────
	// User supplied
	// ─────────────────────────────

	// URL is the bookmarked address.
	// Example: https://go.dev/doc/effective_go
	URL string `json:"url"`

	// Title is free text shown above the URL.
	Title string `json:"title"`

	// ─────────────────────────────
	// Ownership & ordering
	// ─────────────────────────────

	// Owner is the identity that created the bookmark.
	// Never displayed, only used as a server-side filter.
	Owner string `json:"user_id"`

	// CreatedAt defines display order (newest first).
	CreatedAt time.Time `json:"created_at"`
}

// NewBookmark is the payload of an insert request.
type NewBookmark struct {
	URL   string
	Title string
	Owner string
}

// Validate checks the payload the same way the dashboard form does:
// both fields present and the url shaped like an absolute http(s) url.
func (n NewBookmark) Validate() error {
	if strings.TrimSpace(n.URL) == "" {
		return ErrMissingURL
	}
	if strings.TrimSpace(n.Title) == "" {
		return ErrMissingTitle
	}
	if n.Owner == "" {
		return ErrMissingOwner
	}
	u, err := url.Parse(n.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}

// IndexOf returns the position of the first bookmark with the given id, or -1.
func IndexOf(bookmarks []Bookmark, id string) int {
	for i := range bookmarks {
		if bookmarks[i].ID == id {
			return i
		}
	}
	return -1
}

// Without returns a new slice with every bookmark matching id removed.
// The input is never modified.
func Without(bookmarks []Bookmark, id string) []Bookmark {
	out := make([]Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

// Prepend returns a new slice with b in front of bookmarks.
func Prepend(bookmarks []Bookmark, b Bookmark) []Bookmark {
	out := make([]Bookmark, 0, len(bookmarks)+1)
	out = append(out, b)
	return append(out, bookmarks...)
}
