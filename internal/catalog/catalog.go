// Package catalog holds the versioned lookup tables that translate raw CRM
// codes into business names: acquisition source codes to channel names, deal
// category codes to segments, and state codes to regions.
package catalog

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-insights/internal/model"
)

// UnknownSource is the channel name for records without a source code.
const UnknownSource = "Unknown"

//go:embed default.yaml
var defaultYAML []byte

// Catalog is an immutable set of lookup tables.
type Catalog struct {
	Version    int                       `yaml:"version"`
	Sources    map[string]string         `yaml:"sources"`
	Categories map[string]model.Category `yaml:"categories"`
	Regions    map[string]string         `yaml:"regions"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic("catalog: embedded default is invalid: " + err.Error())
	}
	return c
}

// Load reads a catalog YAML file. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a catalog and upper-cases its code keys.
func Parse(data []byte) (*Catalog, error) {
	var raw Catalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	c := &Catalog{
		Version:    raw.Version,
		Sources:    make(map[string]string, len(raw.Sources)),
		Categories: make(map[string]model.Category, len(raw.Categories)),
		Regions:    make(map[string]string, len(raw.Regions)),
	}
	for code, name := range raw.Sources {
		c.Sources[codeKey(code)] = strings.TrimSpace(name)
	}
	for code, cat := range raw.Categories {
		switch cat {
		case model.CategoryRetail, model.CategoryProject, model.CategoryOther:
		default:
			return nil, eris.Errorf("catalog: category %q maps to unknown segment %q", code, cat)
		}
		c.Categories[codeKey(code)] = cat
	}
	for state, region := range raw.Regions {
		c.Regions[codeKey(state)] = strings.TrimSpace(region)
	}
	return c, nil
}

// FriendlySource maps a raw source code to its channel name. Codes missing
// from the table are returned trimmed, so they still group with themselves.
func (c *Catalog) FriendlySource(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownSource
	}
	if name, ok := c.Sources[codeKey(raw)]; ok {
		return name
	}
	return raw
}

// Category maps a raw deal category code to a segment. Unknown codes are
// segmented as other.
func (c *Catalog) Category(code string) model.Category {
	if cat, ok := c.Categories[codeKey(code)]; ok {
		return cat
	}
	return model.CategoryOther
}

// Region returns the region for a state code, or "" when unknown.
func (c *Catalog) Region(state string) string {
	return c.Regions[codeKey(state)]
}

// Channels lists the distinct channel names sorted by name.
func (c *Catalog) Channels() []string {
	seen := make(map[string]struct{}, len(c.Sources))
	var out []string
	for _, name := range c.Sources {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func codeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Fold lower-cases s and strips diacritics so that "Indicação" and
// "INDICACAO" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return cases.Fold().String(out)
}
