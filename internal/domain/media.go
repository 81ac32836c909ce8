package domain

// MediaItem is a single piece of content pulled from an external source.
type MediaItem struct {
	Locator    string
	Source     string
	Title      string
	Tags       []string
	Score      int
	IsSelf     bool
	IsStickied bool
	IsGallery  bool
}

// QueuedItem pairs a media item with the commentary generated for it.
type QueuedItem struct {
	Media      MediaItem
	Commentary string
}
