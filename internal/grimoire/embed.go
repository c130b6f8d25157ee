package grimoire

import "embed"

// builtinGrimoiresFS holds the grimoire definitions shipped inside the
// binary, available even when a workspace has no grimoires/ of its own.
//
//go:embed grimoires/*.yaml
var builtinGrimoiresFS embed.FS

func init() {
	SetBuiltinGrimoires(builtinGrimoiresFS)
}
