package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orchard = `
[[species]]
name = "Apple"
aliases = ["Malus domestica"]
varieties = ["Bramley"]

[[species]]
name = "Medlar"
aliases = ["Mespilus germanica"]
`

func TestParseAndLookup(t *testing.T) {
	t.Parallel()

	c, err := Parse(orchard)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"Apple", "Medlar"}, c.Names())

	name, ok := c.Canonical("  malus   DOMESTICA ")
	require.True(t, ok)
	assert.Equal(t, "Apple", name)

	s, ok := c.Lookup("medlar")
	require.True(t, ok)
	assert.Equal(t, []string{"Mespilus germanica"}, s.Aliases)

	_, ok = c.Canonical("Loquat")
	assert.False(t, ok)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[[species]\nname = "},
		{"unknown key", "[[species]]\nname = \"Fig\"\ncolour = \"green\"\n"},
		{"missing name", "[[species]]\naliases = [\"x\"]\n"},
		{"shared alias", "[[species]]\nname = \"Plum\"\naliases = [\"gage\"]\n[[species]]\nname = \"Greengage\"\naliases = [\"GAGE\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.data)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	def, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), def)
	name, ok := def.Canonical("prunus avium")
	require.True(t, ok)
	assert.Equal(t, "Cherry", name)

	path := filepath.Join(t.TempDir(), "species.toml")
	require.NoError(t, os.WriteFile(path, []byte(orchard), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestNilCatalogLookup(t *testing.T) {
	t.Parallel()

	var c *Catalog
	_, ok := c.Canonical("Apple")
	assert.False(t, ok)
}
