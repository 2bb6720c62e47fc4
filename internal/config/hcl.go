package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// DecodeHCL decodes an HCL configuration document into a Snapshot - the
// alternate decoding path SPEC_FULL.md's DOMAIN STACK wires in alongside
// DecodeYAML, exercising the teacher's hashicorp/hcl + zclconf/go-cty
// dependency pair for the same config schema (internal/config/raw.go's
// RawDocument carries both yaml and hcl struct tags).
func DecodeHCL(filename string, data []byte) (*Snapshot, error) {
	var doc RawDocument
	if err := hclsimple.Decode(filename, data, nil, &doc); err != nil {
		return nil, fmt.Errorf("config: decode hcl: %w", err)
	}
	return buildSnapshot(doc)
}
