package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/pkg/nomenclature"
)

// exceptionsFile is the on-disk shape of the serology exceptions allow-list.
type exceptionsFile struct {
	Version    string              `yaml:"version"`
	Exceptions map[string][]string `yaml:"exceptions"`
}

// LoadSerologyExceptions reads the allow-list of alleles whose serology
// assignments are never reported as unexpected. An empty path yields an
// empty allow-list.
func LoadSerologyExceptions(path string) (domain.SerologyExceptions, error) {
	if path == "" {
		return domain.NewSerologyExceptions("", nil), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return domain.SerologyExceptions{}, fmt.Errorf("reading serology exceptions: %w", err)
	}
	return ParseSerologyExceptions(content)
}

// ParseSerologyExceptions decodes a YAML allow-list. Locus keys use the
// molecular spelling ("B" or "B*").
func ParseSerologyExceptions(content []byte) (domain.SerologyExceptions, error) {
	var file exceptionsFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return domain.SerologyExceptions{}, fmt.Errorf("decoding serology exceptions: %w", err)
	}

	entries := make(map[domain.Locus][]string, len(file.Exceptions))
	for name, alleles := range file.Exceptions {
		locus, err := nomenclature.MolecularLocus(name)
		if err != nil {
			return domain.SerologyExceptions{}, fmt.Errorf("serology exceptions: %w", err)
		}
		for _, allele := range alleles {
			if isAlleleFamily(allele) {
				continue
			}
			if _, err := nomenclature.ParseAlleleName(allele); err != nil {
				return domain.SerologyExceptions{}, fmt.Errorf("serology exceptions at %s: %w", locus, err)
			}
		}
		entries[locus] = append(entries[locus], alleles...)
	}
	return domain.NewSerologyExceptions(file.Version, entries), nil
}

// isAlleleFamily reports whether name is a bare first field such as "15".
func isAlleleFamily(name string) bool {
	if len(name) < 2 || len(name) > 4 {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
