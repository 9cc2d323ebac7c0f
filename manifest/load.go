package manifest

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when a manifest fails validation.
var ErrInvalidManifest = fmt.Errorf("invalid index manifest")

// Validate checks that the manifest can be applied as is.
func (m *Manifest) Validate() error {
	if len(m.Collections) == 0 {
		return fmt.Errorf("%w: no collections", ErrInvalidManifest)
	}
	seen := make(map[string]bool, len(m.Collections))
	for _, c := range m.Collections {
		if c.Name == "" {
			return fmt.Errorf("%w: collection without name", ErrInvalidManifest)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: collection %s listed twice", ErrInvalidManifest, c.Name)
		}
		seen[c.Name] = true
		for i, idx := range c.Indexes {
			if err := idx.validate(); err != nil {
				return fmt.Errorf("%w: %s index #%d: %v", ErrInvalidManifest, c.Name, i, err)
			}
			for _, prev := range c.Indexes[:i] {
				if prev.Equal(idx) {
					return fmt.Errorf("%w: %s lists %s twice", ErrInvalidManifest, c.Name, idx)
				}
			}
		}
	}
	return nil
}

func (idx Index) validate() error {
	if len(idx.Keys) == 0 {
		return fmt.Errorf("no keys")
	}
	fields := make(map[string]bool, len(idx.Keys))
	for _, k := range idx.Keys {
		if k.Field == "" {
			return fmt.Errorf("empty field path")
		}
		if k.Direction != Ascending && k.Direction != Descending {
			return fmt.Errorf("field %s has direction %d, expected 1 or -1", k.Field, k.Direction)
		}
		if fields[k.Field] {
			return fmt.Errorf("field %s repeated", k.Field)
		}
		fields[k.Field] = true
	}
	return nil
}

// Load decodes and validates a YAML manifest. JSON documents are accepted
// too since they are valid YAML.
func Load(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFile reads the manifest stored at path.
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open manifest %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// WriteYAML encodes the manifest so it can be diffed or edited by an
// operator and fed back through Load.
func (m *Manifest) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}
