package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCharacterValidate_TagIndexed(t *testing.T) {
	c := Character{
		Name: " Ayla ",
		Source: SourceConfig{
			Kind:   SourceKindTagIndexed,
			Tagged: &TaggedSource{Queries: []string{" cat ", "", "cat", "dog rating:safe"}, MinScore: 5},
		},
	}
	require.NoError(t, c.Validate())
	require.Equal(t, "Ayla", c.Name)
	require.Equal(t, []string{"cat", "dog rating:safe"}, c.Source.Names())
	require.Equal(t, 5, c.Source.MinScore())
}

func TestCharacterValidate_SubredditDefaultsTimeframe(t *testing.T) {
	c := Character{
		Name:   "Bo",
		Source: SourceConfig{Kind: SourceKindSubreddit, Listing: &ListingSource{Subreddits: []string{"aww"}}},
	}
	require.NoError(t, c.Validate())
	require.Equal(t, "week", c.Source.Timeframe())
	require.Equal(t, 0, c.Source.MinScore())
}

func TestCharacterValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		c    Character
		want string
	}{
		{"empty name", Character{Source: SourceConfig{Kind: SourceKindTagIndexed, Tagged: &TaggedSource{Queries: []string{"a"}}}}, "name"},
		{"unknown kind", Character{Name: "x", Source: SourceConfig{Kind: "rss"}}, "unknown source kind"},
		{"missing tagged", Character{Name: "x", Source: SourceConfig{Kind: SourceKindTagIndexed}}, "tagged block"},
		{"both payloads", Character{Name: "x", Source: SourceConfig{
			Kind:    SourceKindSubreddit,
			Tagged:  &TaggedSource{Queries: []string{"a"}},
			Listing: &ListingSource{Subreddits: []string{"a"}},
		}}, "listing block"},
		{"no sources", Character{Name: "x", Source: SourceConfig{Kind: SourceKindSubreddit, Listing: &ListingSource{}}}, "at least one"},
		{"bad timeframe", Character{Name: "x", Source: SourceConfig{Kind: SourceKindSubreddit, Listing: &ListingSource{
			Subreddits: []string{"a"}, Timeframe: "decade",
		}}}, "timeframe"},
		{"negative score", Character{Name: "x", Source: SourceConfig{Kind: SourceKindTagIndexed, Tagged: &TaggedSource{
			Queries: []string{"a"}, MinScore: -1,
		}}}, "min_score"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
