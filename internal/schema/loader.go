package schema

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-contracts/internal/domain"
)

// Document is the on-disk contract-set format:
//
//	contracts:
//	  - id: daily_prices
//	    source_hint: market
//	    output_location: out/prices.json
//	    freshness_window: 1h
//	    required_fields:
//	      - {name: close, type: number, operation: quote, args: {symbol: ACME}}
//	sets:
//	  daily: [daily_prices]
//
// Durations use Go syntax ("90s", "1h").
type Document struct {
	Contracts []domain.Contract   `yaml:"contracts"`
	Sets      map[string][]string `yaml:"sets"`
}

// LoadFile reads a contract-set document from path into s.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("open contract file: %w", err)
	}
	defer f.Close()
	if err := s.Load(f); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses a contract-set document and registers every contract and set
// in it. Every contract is registered before any set is defined so sets may
// reference contracts in any order.
func (s *Store) Load(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse contract document: %w", err)
	}

	for _, c := range doc.Contracts {
		if err := s.Register(c); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(doc.Sets))
	for name := range doc.Sets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.DefineSet(name, doc.Sets[name]); err != nil {
			return err
		}
	}

	s.logger.Info("contract document loaded", "contracts", len(doc.Contracts), "sets", len(doc.Sets))
	return nil
}
