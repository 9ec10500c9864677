package templates

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadTemplate parses a decomposition template from the provided reader.
// KnownFields is enabled so a typo'd key in a template (e.g.
// "depend_on" instead of "depends_on") fails at load time rather than
// silently dropping a dependency edge at decomposition time.
func LoadTemplate(r io.Reader) (*Template, error) {
	tpl, err := decodeTemplate(r)
	if err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return tpl, nil
}

func decodeTemplate(r io.Reader) (*Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var tpl Template
	if err := dec.Decode(&tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}
