// Package functions loads the catalog of callable function descriptors
// that the prompt builder renders for the model.
package functions

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
)

// FunctionSpec describes one callable function.
// Parameters is kept as the raw JSON value from the catalog.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Catalog is an ordered, read-only list of FunctionSpec. Order is file order
// and determines prompt rendering order.
type Catalog struct {
	specs []FunctionSpec
	index map[string]int
}

// New builds a catalog in memory. Duplicate names keep the first position for
// Lookup but every entry is still rendered.
func New(specs ...FunctionSpec) *Catalog {
	c := &Catalog{
		specs: make([]FunctionSpec, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	for i, s := range specs {
		s.Parameters = append(json.RawMessage(nil), s.Parameters...)
		c.specs[i] = s
		if _, ok := c.index[s.Name]; !ok {
			c.index[s.Name] = i
		}
	}
	return c
}

// Load reads a JSON array of {name, description, parameters} objects from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrParse, "load catalog", errs.Wrap(errs.ErrIO, path, err))
	}
	c, err := ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads a catalog from r.
func Parse(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrParse, "read catalog", errs.Wrap(errs.ErrIO, "", err))
	}
	return ParseBytes(data)
}

type rawSpec struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ParseBytes decodes a catalog document.
func ParseBytes(data []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errs.New(errs.ErrParse, "parse catalog", "expected a JSON array of function descriptors")
	}
	var raw []rawSpec
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, errs.Wrap(errs.ErrParse, "parse catalog", err)
	}

	specs := make([]FunctionSpec, 0, len(raw))
	for i, r := range raw {
		if r.Name == nil || *r.Name == "" {
			return nil, errs.New(errs.ErrParse, "parse catalog", "entry %d: missing name", i)
		}
		params := bytes.TrimSpace(r.Parameters)
		if len(params) == 0 || bytes.Equal(params, []byte("null")) {
			return nil, errs.New(errs.ErrParse, "parse catalog", "entry %d (%s): missing parameters", i, *r.Name)
		}
		if r.Description == nil {
			return nil, errs.New(errs.ErrParse, "parse catalog", "entry %d (%s): missing description", i, *r.Name)
		}
		specs = append(specs, FunctionSpec{Name: *r.Name, Description: *r.Description, Parameters: json.RawMessage(params)})
	}
	return New(specs...), nil
}

// Functions returns a copy of the descriptors in catalog order.
func (c *Catalog) Functions() []FunctionSpec {
	if c == nil {
		return nil
	}
	out := make([]FunctionSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.specs)
}

// Names returns function names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, c.Len())
	for _, s := range c.Functions() {
		out = append(out, s.Name)
	}
	return out
}

// Lookup finds a descriptor by name.
func (c *Catalog) Lookup(name string) (FunctionSpec, bool) {
	if c == nil {
		return FunctionSpec{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return FunctionSpec{}, false
	}
	return c.specs[i], true
}

// MarshalJSON encodes the catalog back into its file form.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	specs := c.Functions()
	if specs == nil {
		specs = []FunctionSpec{}
	}
	return json.Marshal(specs)
}
