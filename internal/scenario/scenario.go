// Package scenario holds the immutable table of market news items that the
// host can trigger, and picks from it uniformly at random.
package scenario

import (
	"bytes"
	crand "crypto/rand"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyTable is returned when a table would contain no scenarios.
	ErrEmptyTable = errors.New("scenario: table must contain at least one scenario")

	// ErrInvalidScenario is returned for entries with empty text or an
	// impact outside [MinImpact, MaxImpact].
	ErrInvalidScenario = errors.New("scenario: invalid scenario")

	MinImpact = decimal.NewFromInt(-100)
	MaxImpact = decimal.NewFromInt(100)
)

//go:embed scenarios.yaml
var defaultCorpus []byte

// Scenario is a news item with a signed percentage price impact.
type Scenario struct {
	Text   string          `json:"text"`
	Impact decimal.Decimal `json:"impact"`
}

// Table is an ordered, read-only list of scenarios.
type Table struct {
	entries []Scenario

	mu  sync.Mutex // guards rng; *rand.Rand is not safe for concurrent use
	rng *rand.Rand
}

// NewTable validates and copies entries. src drives Pick; use NewSeedSource
// in production and a fixed source in tests.
func NewTable(entries []Scenario, src rand.Source) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTable
	}
	for i, e := range entries {
		if e.Text == "" {
			return nil, fmt.Errorf("%w: entry %d has empty text", ErrInvalidScenario, i)
		}
		if e.Impact.LessThan(MinImpact) || e.Impact.GreaterThan(MaxImpact) {
			return nil, fmt.Errorf("%w: entry %d impact %s out of range", ErrInvalidScenario, i, e.Impact)
		}
	}
	if src == nil {
		src = NewSeedSource()
	}
	return &Table{
		entries: append([]Scenario(nil), entries...),
		rng:     rand.New(src),
	}, nil
}

// Pick returns one scenario chosen uniformly at random.
func (t *Table) Pick() Scenario {
	t.mu.Lock()
	i := t.rng.IntN(len(t.entries))
	t.mu.Unlock()
	return t.entries[i]
}

// Len returns the number of scenarios.
func (t *Table) Len() int {
	return len(t.entries)
}

// All returns a copy of the table in its original order.
func (t *Table) All() []Scenario {
	return append([]Scenario(nil), t.entries...)
}

// --- Loading ---

// Impact decodes through decimal's UnmarshalText, so fractional
// percentages like 2.5 load exactly.
type fileEntry struct {
	Text   string          `yaml:"text"`
	Impact decimal.Decimal `yaml:"impact"`
}

type fileConfig struct {
	Scenarios []fileEntry `yaml:"scenarios"`
}

// Parse decodes a YAML scenario corpus. Unknown fields are rejected.
func Parse(r io.Reader) ([]Scenario, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	out := make([]Scenario, 0, len(cfg.Scenarios))
	for _, e := range cfg.Scenarios {
		out = append(out, Scenario{Text: e.Text, Impact: e.Impact})
	}
	return out, nil
}

// Default returns the built-in news corpus.
func Default() []Scenario {
	entries, err := Parse(bytes.NewReader(defaultCorpus))
	if err != nil {
		panic(err) // embedded file is part of the build
	}
	return entries
}

// LoadFile reads a scenario corpus from path.
func LoadFile(path string) ([]Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(bytes.NewReader(raw))
}

// NewSeedSource returns a PCG source seeded from crypto/rand.
func NewSeedSource() rand.Source {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Errorf("read random seed: %w", err))
	}
	return rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))
}
