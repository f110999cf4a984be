package catalog

import "sync"

const defaultCatalog = `
[[species]]
name = "Apple"
aliases = ["Malus domestica", "Malus pumila"]
varieties = ["Bramley's Seedling", "Cox's Orange Pippin", "Granny Smith", "Honeycrisp"]
rootstocks = ["M9", "M26", "MM106", "MM111"]

[[species]]
name = "Pear"
aliases = ["Pyrus communis", "European pear"]
varieties = ["Conference", "Doyenne du Comice", "Williams"]
rootstocks = ["Quince A", "Quince C", "Pyrodwarf"]

[[species]]
name = "Plum"
aliases = ["Prunus domestica"]
varieties = ["Victoria", "Czar", "Opal"]
rootstocks = ["St Julien A", "Pixy"]

[[species]]
name = "Cherry"
aliases = ["Prunus avium", "Sweet cherry"]
varieties = ["Stella", "Lapins", "Sunburst"]
rootstocks = ["Gisela 5", "Colt"]

[[species]]
name = "Sour cherry"
aliases = ["Prunus cerasus", "Morello"]

[[species]]
name = "Quince"
aliases = ["Cydonia oblonga"]

[[species]]
name = "Fig"
aliases = ["Ficus carica"]

[[species]]
name = "Walnut"
aliases = ["Juglans regia", "English walnut"]

[[species]]
name = "Hazel"
aliases = ["Corylus avellana", "Cobnut"]
`

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the built-in catalog of common orchard species.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalog)
		if err != nil {
			panic("catalog: built-in catalog is invalid: " + err.Error())
		}
		defaultCat = c
	})
	return defaultCat
}
