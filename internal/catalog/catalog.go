// Package catalog maps free-text species labels onto canonical names using a
// TOML species list. The duplicate finder and the record API use it so that
// "Bramley's Seedling" and "bramley" land on the same species.
package catalog

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/philipwilson/trees/internal/errors"
)

// Species is one catalog entry.
type Species struct {
	Name       string   `toml:"name" json:"name"`
	Aliases    []string `toml:"aliases" json:"aliases,omitempty"`
	Varieties  []string `toml:"varieties" json:"varieties,omitempty"`
	Rootstocks []string `toml:"rootstocks" json:"rootstocks,omitempty"`
}

type file struct {
	Species []Species `toml:"species"`
}

// Catalog is an immutable lookup table. The zero value is not usable; use
// Parse, Load or Default.
type Catalog struct {
	species []Species
	index   map[string]int // folded label -> species index
}

var (
	folder   = cases.Fold()
	folderMu sync.Mutex
)

// fold normalizes a label for lookup. cases.Caser is not safe for
// concurrent use.
func fold(label string) string {
	label = strings.Join(strings.Fields(norm.NFC.String(label)), " ")
	folderMu.Lock()
	defer folderMu.Unlock()
	return folder.String(label)
}

// Parse decodes a TOML catalog.
func Parse(data string) (*Catalog, error) {
	var f file
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("unknown catalog key %q", undecoded[0].String()).
			Component("catalog").
			Category(errors.CategoryValidation).
			Build()
	}
	return build(f.Species)
}

// Load reads a catalog from path. An empty path returns Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return Parse(string(data))
}

func build(entries []Species) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int)}
	for _, s := range entries {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, errors.Newf("catalog entry without a name").
				Component("catalog").
				Category(errors.CategoryValidation).
				Build()
		}
		pos := len(c.species)
		for _, label := range append([]string{s.Name}, s.Aliases...) {
			key := fold(label)
			if key == "" {
				continue
			}
			if prev, ok := c.index[key]; ok && prev != pos {
				return nil, errors.Newf("catalog label %q is claimed by %q and %q", label, c.species[prev].Name, s.Name).
					Component("catalog").
					Category(errors.CategoryConflict).
					Build()
			}
			c.index[key] = pos
		}
		c.species = append(c.species, s)
	}
	return c, nil
}

// Canonical returns the catalog name for label. ok is false when the label
// is not in the catalog.
func (c *Catalog) Canonical(label string) (string, bool) {
	s, ok := c.Lookup(label)
	if !ok {
		return "", false
	}
	return s.Name, true
}

// Lookup returns the entry for a name or alias.
func (c *Catalog) Lookup(label string) (Species, bool) {
	if c == nil {
		return Species{}, false
	}
	pos, ok := c.index[fold(label)]
	if !ok {
		return Species{}, false
	}
	return c.species[pos], true
}

// Names returns the canonical names sorted.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.species))
	for i := range c.species {
		names[i] = c.species[i].Name
	}
	slices.Sort(names)
	return names
}

// Species returns a copy of all entries in file order.
func (c *Catalog) Species() []Species {
	return slices.Clone(c.species)
}

func (c *Catalog) Len() int { return len(c.species) }
