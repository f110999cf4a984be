// Package duplicates finds records that probably describe the same tree and
// deletes the ones an operator selects. Nothing is merged.
package duplicates

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/philipwilson/trees/internal/datastore"
)

// Precision is the number of decimal places coordinates are rounded to.
// Four places is roughly 11 m at the equator.
const Precision = 4

var scale = math.Pow10(Precision)

// Key groups records that are treated as the same physical tree.
type Key struct {
	Lat     float64 `json:"latitude"`
	Lon     float64 `json:"longitude"`
	Species string  `json:"species"`
}

// Set is a candidate duplicate group, oldest member first.
type Set struct {
	Key     Key                `json:"key"`
	Members []datastore.Record `json:"members"`
}

// IDs returns the member ids in set order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.Members))
	for i := range s.Members {
		ids[i] = s.Members[i].ID
	}
	return ids
}

func round(v float64) float64 {
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0 // fold -0
	}
	return r
}

// Canonicalizer maps a species label to its canonical name. The species
// catalog implements it.
type Canonicalizer interface {
	Canonical(label string) (string, bool)
}

// Option configures Find.
type Option func(*normalizer)

// WithCanonicalizer folds catalog aliases onto one species before keying.
func WithCanonicalizer(c Canonicalizer) Option {
	return func(n *normalizer) { n.canon = c }
}

type normalizer struct {
	caser cases.Caser
	canon Canonicalizer
}

func newNormalizer(opts ...Option) *normalizer {
	n := &normalizer{caser: cases.Fold()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// species trims, collapses inner whitespace and case-folds a label.
func (n *normalizer) species(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if n.canon != nil {
		if name, ok := n.canon.Canonical(s); ok {
			s = name
		}
	}
	return n.caser.String(s)
}

func (n *normalizer) key(r *datastore.Record) Key {
	return Key{Lat: round(r.Latitude), Lon: round(r.Longitude), Species: n.species(r.Species)}
}

// KeyOf returns the grouping key of r.
func KeyOf(r *datastore.Record, opts ...Option) Key {
	return newNormalizer(opts...).key(r)
}

// Find groups records by Key and returns every group with more than one
// member. Members are ordered by creation time, sets by species and then
// position.
func Find(records []datastore.Record, opts ...Option) []Set {
	n := newNormalizer(opts...)
	index := make(map[Key]int)
	var sets []Set
	for i := range records {
		k := n.key(&records[i])
		pos, ok := index[k]
		if !ok {
			pos = len(sets)
			index[k] = pos
			sets = append(sets, Set{Key: k})
		}
		sets[pos].Members = append(sets[pos].Members, records[i])
	}

	out := sets[:0]
	for _, s := range sets {
		if len(s.Members) < 2 {
			continue
		}
		slices.SortStableFunc(s.Members, func(a, b datastore.Record) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Set) int {
		return cmp.Or(
			strings.Compare(a.Key.Species, b.Key.Species),
			cmp.Compare(a.Key.Lat, b.Key.Lat),
			cmp.Compare(a.Key.Lon, b.Key.Lon),
		)
	})
	return out
}
