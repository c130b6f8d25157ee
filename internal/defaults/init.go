// Package defaults seeds a fresh .coven directory with the built-in
// grimoires and spells, copied out as visible, editable files rather than
// left as magic baked into the binary.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed spells/*.md
var defaultSpells embed.FS

//go:embed grimoires/*.yaml
var defaultGrimoires embed.FS

// InitResult reports what Initialize did: which files it copied into a
// fresh .coven directory, and which it left alone because they already
// existed.
type InitResult struct {
	SpellsCopied     []string
	SpellsSkipped    []string
	GrimoiresCopied  []string
	GrimoiresSkipped []string
}

// TotalCopied returns how many files Initialize actually wrote.
func (r *InitResult) TotalCopied() int {
	return len(r.SpellsCopied) + len(r.GrimoiresCopied)
}

// TotalSkipped returns how many files Initialize left untouched because a
// user-customized version already existed.
func (r *InitResult) TotalSkipped() int {
	return len(r.SpellsSkipped) + len(r.GrimoiresSkipped)
}

// Initialize copies the built-in grimoires and spells into covenDir,
// without overwriting any file already there.
func Initialize(covenDir string) (*InitResult, error) {
	result := &InitResult{}

	if err := copyEmbedded(defaultSpells, "spells", filepath.Join(covenDir, "spells"), ".md", &result.SpellsCopied, &result.SpellsSkipped); err != nil {
		return nil, fmt.Errorf("failed to initialize spells: %w", err)
	}

	if err := copyEmbedded(defaultGrimoires, "grimoires", filepath.Join(covenDir, "grimoires"), ".yaml", &result.GrimoiresCopied, &result.GrimoiresSkipped); err != nil {
		return nil, fmt.Errorf("failed to initialize grimoires: %w", err)
	}

	return result, nil
}

// copyEmbedded copies every srcDir/*ext file from fsys into destDir,
// recording each file's name into copied or skipped depending on whether
// it already existed at the destination.
func copyEmbedded(fsys embed.FS, srcDir, destDir, ext string, copied, skipped *[]string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}

	entries, err := fs.ReadDir(fsys, srcDir)
	if err != nil {
		return fmt.Errorf("failed to read embedded directory %s: %w", srcDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}

		destPath := filepath.Join(destDir, entry.Name())
		if _, err := os.Stat(destPath); err == nil {
			*skipped = append(*skipped, entry.Name())
			continue
		}

		content, err := fs.ReadFile(fsys, filepath.Join(srcDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read embedded file %s: %w", entry.Name(), err)
		}
		if err := os.WriteFile(destPath, content, 0644); err != nil {
			return fmt.Errorf("failed to write file %s: %w", destPath, err)
		}

		*copied = append(*copied, entry.Name())
	}

	return nil
}

// embeddedNames lists the base names (extension stripped) of every ext
// file embedded under dir in fsys.
func embeddedNames(fsys embed.FS, dir, ext string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ext))
	}
	return names, nil
}

// SpellNames returns the names of all built-in spells.
func SpellNames() ([]string, error) {
	return embeddedNames(defaultSpells, "spells", ".md")
}

// GrimoireNames returns the names of all built-in grimoires.
func GrimoireNames() ([]string, error) {
	return embeddedNames(defaultGrimoires, "grimoires", ".yaml")
}
