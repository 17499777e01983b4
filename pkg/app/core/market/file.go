package market

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk seed of the registry
//
//	markets:
//	  - id: btc-100k-2026
//	    title: Will BTC close above $100k in 2026?
//	    deadline: 2026-12-31T23:59:59Z
//	    status: open
type File struct {
	Markets []Market `yaml:"markets"`
}

// LoadFile reads a YAML market file and registers every market in it
func (mr *MarketRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read markets file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse markets file %s: %w", path, err)
	}

	for _, m := range f.Markets {
		if err := mr.RegisterMarket(m); err != nil {
			return fmt.Errorf("markets file %s: %w", path, err)
		}
	}
	return nil
}
