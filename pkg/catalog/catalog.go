package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a model id is not in the catalog.
var ErrNotFound = errors.New("model not found")

// Catalog is a read-only set of models. It is safe for concurrent use
// because nothing mutates it after New returns.
type Catalog struct {
	models  []Model
	byID    map[string]int
	aliases map[string]int
}

// File is the on-disk catalog layout.
type File struct {
	Models []Model `yaml:"models"`
}

// New validates models and builds a catalog. Catalog order is the order of
// models and is used as the final selection tie-break.
func New(models []Model) (*Catalog, error) {
	c := &Catalog{
		models:  make([]Model, 0, len(models)),
		byID:    make(map[string]int, len(models)),
		aliases: make(map[string]int),
	}
	for _, m := range models {
		c.models = append(c.models, m.clone())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for i, m := range c.models {
		c.byID[m.ID] = i
		for _, alias := range m.Aliases {
			c.aliases[strings.ToLower(alias)] = i
		}
	}
	return c, nil
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	cat, err := New(f.Models)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return cat, nil
}

// Validate checks the catalog invariants: unique ids and aliases, known
// providers, and at least one model open to the free tier.
func (c *Catalog) Validate() error {
	if c == nil || len(c.models) == 0 {
		return fmt.Errorf("catalog is empty")
	}

	ids := make(map[string]bool, len(c.models))
	aliases := make(map[string]string)
	hasFree := false
	for i, m := range c.models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("model %d: id is required", i)
		}
		if ids[m.ID] {
			return fmt.Errorf("model %q: duplicate id", m.ID)
		}
		ids[m.ID] = true
		if !m.Provider.Valid() {
			return fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("model %q: upstream name is required", m.ID)
		}
		if m.ContextWindow <= 0 {
			return fmt.Errorf("model %q: context window must be positive", m.ID)
		}
		if len(m.Tiers) == 0 {
			return fmt.Errorf("model %q: at least one tier is required", m.ID)
		}
		for _, alias := range m.Aliases {
			key := strings.ToLower(alias)
			if owner, ok := aliases[key]; ok {
				return fmt.Errorf("alias %q used by %q and %q", alias, owner, m.ID)
			}
			aliases[key] = m.ID
		}
		if m.AvailableTo(TierFree) {
			hasFree = true
		}
	}
	if !hasFree {
		return fmt.Errorf("catalog has no free-tier model")
	}
	return nil
}

// All returns every model in catalog order.
func (c *Catalog) All() []Model {
	out := make([]Model, len(c.models))
	for i, m := range c.models {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}

// Get returns the model with the exact id.
func (c *Catalog) Get(id string) (Model, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.models[idx].clone(), nil
}

// Resolve looks a model up by id, alias, short id or upstream name, in that
// order. Short ids and upstream names resolve to the first match in catalog
// order.
func (c *Catalog) Resolve(name string) (Model, error) {
	name = strings.TrimSpace(name)
	if idx, ok := c.byID[name]; ok {
		return c.models[idx].clone(), nil
	}
	if idx, ok := c.aliases[strings.ToLower(name)]; ok {
		return c.models[idx].clone(), nil
	}
	for _, m := range c.models {
		if m.ShortID() == name || m.Name == name {
			return m.clone(), nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Index returns the catalog position of id, or -1.
func (c *Catalog) Index(id string) int {
	if idx, ok := c.byID[id]; ok {
		return idx
	}
	return -1
}

// FilterByCapability returns models tagged with capability, in catalog order.
func (c *Catalog) FilterByCapability(capability string) []Model {
	return c.filter(func(m Model) bool { return m.Has(capability) })
}

// FilterByTier returns models available to tier, in catalog order.
func (c *Catalog) FilterByTier(tier Tier) []Model {
	return c.filter(func(m Model) bool { return m.AvailableTo(tier) })
}

// FilterByProvider returns models served by provider, in catalog order.
func (c *Catalog) FilterByProvider(p Provider) []Model {
	return c.filter(func(m Model) bool { return m.Provider == p })
}

func (c *Catalog) filter(keep func(Model) bool) []Model {
	var out []Model
	for _, m := range c.models {
		if keep(m) {
			out = append(out, m.clone())
		}
	}
	return out
}
