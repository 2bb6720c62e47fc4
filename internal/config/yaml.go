package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodeYAML decodes a YAML configuration document into a Snapshot (spec
// section 5's config snapshot, populated from the bytes an embedder reads
// off disk - reading the file itself is out of scope, see package doc).
func DecodeYAML(data []byte) (*Snapshot, error) {
	var doc RawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return buildSnapshot(doc)
}
