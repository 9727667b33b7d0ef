package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a pipeline document from YAML.
//
// Decoding is strict: unknown fields are rejected so a typo in a stage
// declaration cannot be silently dropped.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, specErrorf("empty pipeline document")
		}
		return nil, specErrorf("parse pipeline yaml: %v", err)
	}
	// Reject trailing documents; one run interprets exactly one pipeline.
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, specErrorf("pipeline file contains more than one document")
	}
	return &doc, nil
}

// Load reads and parses the pipeline file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return Parse(data)
}
