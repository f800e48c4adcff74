// Package catalog holds the services an appointment can be booked for.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

//go:embed services.yaml
var defaultServices []byte

type file struct {
	Services []model.Service `yaml:"services"`
}

// Catalog is immutable after load. Retired services stay resolvable so
// old appointments keep their meaning but cannot be booked again.
type Catalog struct {
	services []model.Service
	byID     map[string]model.Service
}

func Default() *Catalog {
	c, err := Parse(defaultServices)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads path, or returns the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := &Catalog{byID: map[string]model.Service{}}
	for i, s := range f.Services {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" || strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("catalog entry %d: id and name are required", i)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, s.ID)
		}
		c.byID[s.ID] = s
		c.services = append(c.services, s)
	}
	if len(c.services) == 0 {
		return nil, fmt.Errorf("catalog has no services")
	}
	return c, nil
}

func (c *Catalog) Lookup(id string) (model.Service, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Bookable reports whether new appointments may reference id.
func (c *Catalog) Bookable(id string) bool {
	s, ok := c.byID[id]
	return ok && !s.Retired
}

// Active lists the services open for booking, in file order.
func (c *Catalog) Active() []model.Service {
	out := make([]model.Service, 0, len(c.services))
	for _, s := range c.services {
		if !s.Retired {
			out = append(out, s)
		}
	}
	return out
}
