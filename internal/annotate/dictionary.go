package annotate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDictionary reads rule overrides from a YAML file shaped like
//
//	terms:
//	  sku: {description: Stock keeping unit, business_term: SKU, tags: [product]}
//	suffixes:
//	  sku: {description: Stock keeping unit, business_term: SKU}
//	prefixes:
//	  wh: Warehouse
//
// Missing sections are left empty.
func LoadDictionary(path string) (Dictionary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Dictionary{}, fmt.Errorf("read dictionary: %w", err)
	}
	var d Dictionary
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Dictionary{}, fmt.Errorf("parse dictionary %s: %w", path, err)
	}
	return d, nil
}
