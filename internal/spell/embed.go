package spell

import "embed"

// builtinSpellsFS holds the spell templates shipped inside the binary, so a
// workspace with no spells/ directory of its own still has a working set.
//
//go:embed spells/*.md
var builtinSpellsFS embed.FS

func init() {
	SetBuiltinSpells(builtinSpellsFS)
}
