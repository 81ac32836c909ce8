package media

import (
	"net/url"
	"path"
	"strings"

	"media-companion/internal/domain"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

var imageHosts = map[string]bool{
	"i.redd.it": true, "i.imgur.com": true,
}

func imageLike(locator string) bool {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if imageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return true
	}
	return imageHosts[strings.ToLower(u.Host)]
}

// Suitable applies the source-specific filter deciding whether an item may
// enter the candidate pool.
func Suitable(kind domain.SourceKind, item domain.MediaItem, minScore int) bool {
	if !imageLike(item.Locator) {
		return false
	}
	switch kind {
	case domain.SourceKindTagIndexed:
		return item.Score >= minScore
	case domain.SourceKindSubreddit:
		return !item.IsSelf && !item.IsStickied && !item.IsGallery
	default:
		return false
	}
}
