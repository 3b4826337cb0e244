package model

import (
	"encoding/gob"
	"fmt"
	"os"
)

// weightEntry is one named parameter inside the gob-encoded artifact.
type weightEntry struct {
	Name  string
	Shape []int
	Data  []float64
}

// LoadWeights reads the weight artifact at path into the constructed
// architecture. Any unknown parameter, missing parameter, or shape mismatch
// fails the whole load; no parameter is mutated unless every entry matches.
func (c *Classifier) LoadWeights(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open weight artifact: %w", err)
	}
	defer f.Close()

	var entries []weightEntry
	if err := gob.NewDecoder(f).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode weight artifact: %w", err)
	}

	byName := make(map[string]param, len(c.net.params))
	for _, p := range c.net.params {
		byName[p.name] = p
	}

	staged := make(map[string][]float64, len(entries))
	for _, e := range entries {
		p, ok := byName[e.Name]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrShapeMismatch, e.Name)
		}
		if !shapesEqual(e.Shape, p.value.Shape()) || len(e.Data) != p.value.Len() {
			return fmt.Errorf("%w: parameter %q has shape %v, architecture expects %v",
				ErrShapeMismatch, e.Name, e.Shape, p.value.Shape())
		}
		if _, dup := staged[e.Name]; dup {
			return fmt.Errorf("%w: duplicate parameter %q", ErrShapeMismatch, e.Name)
		}
		staged[e.Name] = e.Data
	}

	if len(staged) != len(c.net.params) {
		return fmt.Errorf("%w: artifact has %d parameters, architecture expects %d",
			ErrShapeMismatch, len(staged), len(c.net.params))
	}

	for _, p := range c.net.params {
		copy(p.value.Data(), staged[p.name])
	}
	return nil
}

// SaveWeights serializes the current parameters. Used by the fixture
// generator; the service itself never writes weights.
func (c *Classifier) SaveWeights(path string) error {
	entries := make([]weightEntry, 0, len(c.net.params))
	for _, p := range c.net.params {
		entries = append(entries, weightEntry{
			Name:  p.name,
			Shape: p.value.Shape(),
			Data:  append([]float64(nil), p.value.Data()...),
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weight artifact: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(entries); err != nil {
		return fmt.Errorf("failed to encode weight artifact: %w", err)
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
