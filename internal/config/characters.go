package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"media-companion/internal/domain"
)

type characterFile struct {
	Characters []domain.Character `yaml:"characters"`
}

// Catalog is the validated set of characters a shard can run, keyed by
// lower-cased name.
type Catalog struct {
	byName map[string]domain.Character
	names  []string
}

// LoadCharacters reads and validates the catalog at path.
func LoadCharacters(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read characters: %w", err)
	}
	return ParseCharacters(raw)
}

// ParseCharacters validates every character once. Any invalid entry fails
// the whole load.
func ParseCharacters(raw []byte) (*Catalog, error) {
	var file characterFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("config: decode characters: %w", err)
	}
	if len(file.Characters) == 0 {
		return nil, errors.New("config: character catalog is empty")
	}
	cat := &Catalog{byName: make(map[string]domain.Character, len(file.Characters))}
	for i := range file.Characters {
		c := file.Characters[i]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("config: character %d: %w", i, err)
		}
		key := strings.ToLower(c.Name)
		if _, dup := cat.byName[key]; dup {
			return nil, fmt.Errorf("config: duplicate character %q", c.Name)
		}
		cat.byName[key] = c
		cat.names = append(cat.names, c.Name)
	}
	return cat, nil
}

// Lookup finds a character by case-insensitive name.
func (c *Catalog) Lookup(name string) (domain.Character, bool) {
	ch, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return ch, ok
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}
