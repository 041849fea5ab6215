package playbook

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a playbook from a YAML file.
func LoadFile(path string) (*Playbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: open %q: %w", path, err)
	}
	defer f.Close()

	pb, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("playbook: parse %q: %w", path, err)
	}
	return pb, nil
}

// LoadFromReader decodes a YAML playbook from r and validates the result.
// Useful in tests where playbooks are constructed from string literals.
func LoadFromReader(r io.Reader) (*Playbook, error) {
	pb := &Playbook{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(pb); err != nil {
		return nil, fmt.Errorf("playbook: decode yaml: %w", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return pb, nil
}
