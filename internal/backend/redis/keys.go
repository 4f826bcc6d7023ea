package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark records
	KeyPrefixBookmark = "marks:bookmark:"
	// KeyPrefixOwner is the prefix for per-owner indexes
	KeyPrefixOwner = "marks:owner:"
	// KeyPrefixSession is the prefix for session records
	KeyPrefixSession = "marks:session:"
	// ChannelPrefixChanges is the prefix for per-owner change feed channels
	ChannelPrefixChanges = "marks:changes:"
)

// BookmarkKey returns the key holding the JSON record of a bookmark
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerBookmarksKey returns the sorted set of bookmark ids owned by owner,
// scored by creation time in microseconds.
func OwnerBookmarksKey(owner string) string {
	return KeyPrefixOwner + owner + ":bookmarks"
}

// SessionKey returns the key of a session record
func SessionKey(id string) string {
	return KeyPrefixSession + id
}

// ChangesChannel returns the pub/sub channel carrying owner's change events
func ChangesChannel(owner string) string {
	return ChannelPrefixChanges + owner
}
