// Package tags loads tag dictionaries and turns source metadata into the
// abbreviated tag columns of a report row.
package tags

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mrsinham/radqy/internal/util"
)

// NotAvailable marks a tag that the source does not carry.
const NotAvailable = "NA"

// Entry maps one tag name to the report columns it fills.
type Entry struct {
	Name          string
	Abbreviations []string
}

// Dictionary is the ordered list of tags reported for a scan type.
type Dictionary []Entry

// Columns returns every abbreviation in dictionary order.
func (d Dictionary) Columns() []string {
	var cols []string
	for _, e := range d {
		cols = append(cols, e.Abbreviations...)
	}
	return cols
}

// Unresolved returns one error per entry whose name matches no DICOM tag.
// Such entries can only be filled from volume headers that use the same key.
func (d Dictionary) Unresolved() []error {
	var errs []error
	for _, e := range d {
		if _, err := util.GetTagByName(e.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// LoadDictionary reads a YAML tag dictionary. Each key is a tag name and each
// value is either one abbreviation or a list of abbreviations, one per value
// of a multi-valued tag. Key order is preserved.
func LoadDictionary(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag dictionary: %w", err)
	}

	dict, err := ParseDictionary(data)
	if err != nil {
		return nil, fmt.Errorf("parse tag dictionary %s: %w", filepath.Base(path), err)
	}
	return dict, nil
}

// ParseDictionary decodes a YAML tag dictionary.
func ParseDictionary(data []byte) (Dictionary, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of tag names", root.Line)
	}

	dict := make(Dictionary, 0, len(root.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]

		entry := Entry{Name: key.Value}
		switch value.Kind {
		case yaml.ScalarNode:
			entry.Abbreviations = []string{value.Value}
		case yaml.SequenceNode:
			var abbrevs []string
			if err := value.Decode(&abbrevs); err != nil {
				return nil, fmt.Errorf("line %d: %w", value.Line, err)
			}
			entry.Abbreviations = abbrevs
		default:
			return nil, fmt.Errorf("line %d: tag %q must map to an abbreviation or a list", value.Line, key.Value)
		}

		if len(entry.Abbreviations) == 0 {
			return nil, fmt.Errorf("line %d: tag %q has no abbreviation", value.Line, key.Value)
		}
		for _, a := range entry.Abbreviations {
			if a == "" {
				return nil, fmt.Errorf("line %d: tag %q has an empty abbreviation", value.Line, key.Value)
			}
			if seen[a] {
				return nil, fmt.Errorf("line %d: abbreviation %q is used twice", value.Line, a)
			}
			seen[a] = true
		}
		dict = append(dict, entry)
	}

	if len(dict) == 0 {
		return nil, errors.New("no tags defined")
	}
	return dict, nil
}
