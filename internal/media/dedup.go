package media

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultPostedCapacity = 4096

// PostedSet remembers locators a session has delivered. It is bounded so a
// very long session evicts its oldest entries instead of growing forever.
type PostedSet struct {
	cache *lru.Cache[string, struct{}]
}

// NewPostedSet returns a set holding up to capacity locators. A non-positive
// capacity takes the default.
func NewPostedSet(capacity int) (*PostedSet, error) {
	if capacity <= 0 {
		capacity = defaultPostedCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("media: posted set: %w", err)
	}
	return &PostedSet{cache: cache}, nil
}

func (s *PostedSet) Add(locator string) {
	if locator == "" {
		return
	}
	s.cache.Add(locator, struct{}{})
}

func (s *PostedSet) Contains(locator string) bool {
	return s.cache.Contains(locator)
}

func (s *PostedSet) Len() int {
	return s.cache.Len()
}

func (s *PostedSet) Purge() {
	s.cache.Purge()
}
