package domain

// Identity is the authenticated principal bookmarks are owned by.
type Identity struct {
	// ID is the opaque user id, used as Bookmark.Owner.
	ID string `json:"id"`

	// Email is a display string (shown next to the logout button).
	Email string `json:"email"`
}
