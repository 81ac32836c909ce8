package domain

import (
	"errors"
	"fmt"
	"strings"
)

// SourceKind identifies which content-source API a character pulls from.
type SourceKind string

const (
	SourceKindTagIndexed SourceKind = "tag_indexed"
	SourceKindSubreddit  SourceKind = "subreddit"
)

var validTimeframes = map[string]bool{
	"hour": true, "day": true, "week": true, "month": true, "year": true, "all": true,
}

// TaggedSource configures a tag-indexed search source. Each query is a
// space-separated tag expression sent as one search.
type TaggedSource struct {
	Queries  []string `yaml:"queries"`
	MinScore int      `yaml:"min_score"`
}

// ListingSource configures a link-aggregation source.
type ListingSource struct {
	Subreddits []string `yaml:"subreddits"`
	Timeframe  string   `yaml:"timeframe"`
}

// SourceConfig is a tagged variant: Kind selects which of Tagged or Listing
// is populated. Exactly one payload matches the kind after Validate.
type SourceConfig struct {
	Kind    SourceKind     `yaml:"kind"`
	Tagged  *TaggedSource  `yaml:"tagged,omitempty"`
	Listing *ListingSource `yaml:"listing,omitempty"`
}

// Character is a named persona with the content sources it draws from.
type Character struct {
	Name    string       `yaml:"name"`
	Persona string       `yaml:"persona"`
	Source  SourceConfig `yaml:"source"`
}

// Names returns the source identifiers the character pulls from: tag queries
// for tag-indexed characters, subreddit names otherwise.
func (s SourceConfig) Names() []string {
	switch s.Kind {
	case SourceKindTagIndexed:
		if s.Tagged != nil {
			return s.Tagged.Queries
		}
	case SourceKindSubreddit:
		if s.Listing != nil {
			return s.Listing.Subreddits
		}
	}
	return nil
}

// MinScore returns the score threshold for tag-indexed sources, zero otherwise.
func (s SourceConfig) MinScore() int {
	if s.Kind == SourceKindTagIndexed && s.Tagged != nil {
		return s.Tagged.MinScore
	}
	return 0
}

// Timeframe returns the listing window for subreddit sources, defaulting to week.
func (s SourceConfig) Timeframe() string {
	if s.Kind == SourceKindSubreddit && s.Listing != nil && s.Listing.Timeframe != "" {
		return s.Listing.Timeframe
	}
	return "week"
}

// Validate checks the character once at load time.
func (c *Character) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("domain: character name must not be empty")
	}
	switch c.Source.Kind {
	case SourceKindTagIndexed:
		if c.Source.Tagged == nil || c.Source.Listing != nil {
			return fmt.Errorf("domain: character %q: tag_indexed source requires only a tagged block", c.Name)
		}
		queries, err := cleanList(c.Source.Tagged.Queries)
		if err != nil {
			return fmt.Errorf("domain: character %q: queries: %w", c.Name, err)
		}
		c.Source.Tagged.Queries = queries
		if c.Source.Tagged.MinScore < 0 {
			return fmt.Errorf("domain: character %q: min_score must not be negative", c.Name)
		}
	case SourceKindSubreddit:
		if c.Source.Listing == nil || c.Source.Tagged != nil {
			return fmt.Errorf("domain: character %q: subreddit source requires only a listing block", c.Name)
		}
		subs, err := cleanList(c.Source.Listing.Subreddits)
		if err != nil {
			return fmt.Errorf("domain: character %q: subreddits: %w", c.Name, err)
		}
		c.Source.Listing.Subreddits = subs
		tf := strings.ToLower(strings.TrimSpace(c.Source.Listing.Timeframe))
		if tf == "" {
			tf = "week"
		}
		if !validTimeframes[tf] {
			return fmt.Errorf("domain: character %q: unknown timeframe %q", c.Name, c.Source.Listing.Timeframe)
		}
		c.Source.Listing.Timeframe = tf
	default:
		return fmt.Errorf("domain: character %q: unknown source kind %q", c.Name, c.Source.Kind)
	}
	return nil
}

func cleanList(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("must list at least one source")
	}
	return out, nil
}
