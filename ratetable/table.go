/*
Package ratetable provides the historical monthly price-index rates used
for monetary correction.

PURPOSE:
  An immutable (year, month) -> rate mapping, loaded once at process start
  from a versioned YAML dataset and injected into the engine. Rates are
  stored as published (percent) and served as decimal fractions.

DATASET FORMAT:
  version: ipca-2020-2024
  index: IPCA
  rates:
    - {year: 2020, month: 1, rate: "0.21"}   # 0.21% -> 0.0021

  Rates are quoted strings so they decode into exact decimals.

LOOKUP SEMANTICS:
  Lookup never fails: an absent month yields 0 (no correction). Rate
  reports presence as well, which lets the engine apply a stricter
  policy when configured (see engine.MissPolicy).

USAGE:
  table := ratetable.Default()            // embedded IPCA 2020-2024
  table, err := ratetable.Load("rates.yaml")
  r := table.Lookup(2024, time.March)      // 0.0016

SEE ALSO:
  - engine/correction.go: Consumes Table through engine.RateSource
*/
package ratetable

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidEntry is returned for out-of-range months or unparseable rates.
	ErrInvalidEntry = errors.New("ratetable: invalid entry")
	// ErrDuplicateEntry is returned when a month appears twice.
	ErrDuplicateEntry = errors.New("ratetable: duplicate entry")
)

var hundred = decimal.NewFromInt(100)

// Entry is one published monthly rate, in percent.
type Entry struct {
	Year  int
	Month time.Month
	Rate  decimal.Decimal
}

// Fraction returns the rate as a decimal fraction.
func (e Entry) Fraction() decimal.Decimal { return e.Rate.Div(hundred) }

type key struct {
	year  int
	month time.Month
}

// Table is safe for concurrent reads; it is never mutated after New.
type Table struct {
	version string
	index   string
	entries []Entry // sorted by (year, month)
	rates   map[key]decimal.Decimal
}

// New builds a table from entries given in percent.
func New(version, index string, entries []Entry) (*Table, error) {
	t := &Table{
		version: version,
		index:   index,
		entries: make([]Entry, 0, len(entries)),
		rates:   make(map[key]decimal.Decimal, len(entries)),
	}
	for _, e := range entries {
		if e.Month < time.January || e.Month > time.December {
			return nil, fmt.Errorf("%w: month %d of %d", ErrInvalidEntry, e.Month, e.Year)
		}
		k := key{year: e.Year, month: e.Month}
		if _, dup := t.rates[k]; dup {
			return nil, fmt.Errorf("%w: %04d-%02d", ErrDuplicateEntry, e.Year, int(e.Month))
		}
		t.rates[k] = e.Fraction()
		t.entries = append(t.entries, e)
	}
	sort.Slice(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	return t, nil
}

// Rate returns the fraction for (year, month) and whether an entry exists.
func (t *Table) Rate(year int, month time.Month) (decimal.Decimal, bool) {
	r, ok := t.rates[key{year: year, month: month}]
	if !ok {
		return decimal.Zero, false
	}
	return r, true
}

// Lookup returns the fraction for (year, month), or 0 when absent.
func (t *Table) Lookup(year int, month time.Month) decimal.Decimal {
	r, _ := t.Rate(year, month)
	return r
}

func (t *Table) Version() string { return t.version }
func (t *Table) Index() string   { return t.index }
func (t *Table) Len() int        { return len(t.entries) }

// Entries returns a sorted copy of the published entries.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Coverage returns the first and last covered months. ok is false for an
// empty table.
func (t *Table) Coverage() (first, last Entry, ok bool) {
	if len(t.entries) == 0 {
		return Entry{}, Entry{}, false
	}
	return t.entries[0], t.entries[len(t.entries)-1], true
}

// =============================================================================
// YAML DATASET
// =============================================================================

type datasetFile struct {
	Version string         `yaml:"version"`
	Index   string         `yaml:"index"`
	Rates   []datasetEntry `yaml:"rates"`
}

type datasetEntry struct {
	Year  int    `yaml:"year"`
	Month int    `yaml:"month"`
	Rate  string `yaml:"rate"`
}

// Parse decodes a YAML dataset.
func Parse(data []byte) (*Table, error) {
	var f datasetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ratetable: decode dataset: %w", err)
	}
	entries := make([]Entry, 0, len(f.Rates))
	for _, r := range f.Rates {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("%w: rate %q for %04d-%02d", ErrInvalidEntry, r.Rate, r.Year, r.Month)
		}
		entries = append(entries, Entry{Year: r.Year, Month: time.Month(r.Month), Rate: rate})
	}
	return New(f.Version, f.Index, entries)
}

// Load reads a YAML dataset from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ratetable: read %s: %w", path, err)
	}
	return Parse(data)
}

//go:embed ipca.yaml
var ipcaDataset []byte

// Default returns the embedded IPCA table. It panics if the embedded
// dataset is malformed, which only a broken build can cause.
func Default() *Table {
	t, err := Parse(ipcaDataset)
	if err != nil {
		panic(err)
	}
	return t
}
