// Package catalog holds the reference tariff schedules (ISS-2004 and
// compatible) the tariff calculator prices against.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tarifa is one reference tariff row: a procedure code with its base value
// and service category.
type Tarifa struct {
	CUPS        string  `json:"cups"`
	Descripcion string  `json:"descripcion"`
	Categoria   string  `json:"categoria"`
	Valor       float64 `json:"valor"`
}

// Catalog resolves procedure codes to reference tariffs.
type Catalog interface {
	// Lookup returns the tariff for a procedure code, or false when the
	// code is not in the schedule.
	Lookup(cups string) (Tarifa, bool)
	// Categoria returns the service category for a procedure code.
	Categoria(cups string) (string, bool)
}

// MemoryCatalog is an in-memory Catalog. Safe for concurrent reads once
// loaded; Add is only called during loading.
type MemoryCatalog struct {
	mu      sync.RWMutex
	tarifas map[string]Tarifa
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *MemoryCatalog {
	return &MemoryCatalog{tarifas: make(map[string]Tarifa)}
}

// Add inserts or replaces a tariff row.
func (c *MemoryCatalog) Add(t Tarifa) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Categoria = NormalizeCategoria(t.Categoria)
	c.tarifas[strings.TrimSpace(t.CUPS)] = t
}

func (c *MemoryCatalog) Lookup(cups string) (Tarifa, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tarifas[strings.TrimSpace(cups)]
	return t, ok
}

func (c *MemoryCatalog) Categoria(cups string) (string, bool) {
	t, ok := c.Lookup(cups)
	if !ok {
		return "", false
	}
	return t.Categoria, true
}

// Len returns the number of loaded tariff rows.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tarifas)
}

// Tarifas returns every loaded row in code order, for bulk loaders.
func (c *MemoryCatalog) Tarifas() []Tarifa {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tarifa, 0, len(c.tarifas))
	for _, t := range c.tarifas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CUPS < out[j].CUPS })
	return out
}

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeCategoria canonicalizes a service category name: uppercase,
// trimmed, diacritics stripped ("Cirugía" → "CIRUGIA"). Contract
// multipliers and habilitation records match on the normalized form.
func NormalizeCategoria(categoria string) string {
	s, _, err := transform.String(stripDiacritics, categoria)
	if err != nil {
		s = categoria
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
