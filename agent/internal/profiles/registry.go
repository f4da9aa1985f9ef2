// Package profiles holds the catalog of vendor profiles.
//
// The registry is built once, from the shipped catalog plus an optional YAML
// file, and is read-only afterwards. Every accessor returns deep copies.
package profiles

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pilot-net/netcheck/pkg/types"
)

// ErrUnknownProfile is returned when an id is not in the catalog.
var ErrUnknownProfile = errors.New("unknown profile")

// Registry is an immutable, ordered catalog of vendor profiles.
type Registry struct {
	order []string
	byID  map[string]types.VendorProfile
}

// File is the on-disk format of an extra profiles file.
//
//	profiles:
//	  - id: teams
//	    name: Microsoft Teams
//	    connectivity_targets:
//	      - ip: 52.112.0.1
//	        proto: udp
type File struct {
	Profiles []types.VendorProfile `yaml:"profiles"`
}

// NewRegistry builds a registry from the built-in catalog followed by extra.
func NewRegistry(extra ...types.VendorProfile) (*Registry, error) {
	all := append(builtin(), extra...)
	r := &Registry{
		order: make([]string, 0, len(all)),
		byID:  make(map[string]types.VendorProfile, len(all)),
	}
	for i := range all {
		p := all[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id: %s", p.ID)
		}
		r.order = append(r.order, p.ID)
		r.byID[p.ID] = p.Clone()
	}
	return r, nil
}

// LoadFile builds a registry from the built-in catalog plus the profiles in path.
// An empty path yields the built-in catalog only.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing profiles file: %w", err)
	}
	return NewRegistry(f.Profiles...)
}

// Get returns the profile with the given id.
func (r *Registry) Get(id string) (types.VendorProfile, error) {
	p, ok := r.byID[id]
	if !ok {
		return types.VendorProfile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	return p.Clone(), nil
}

// List returns all profiles in declaration order.
func (r *Registry) List() []types.VendorProfile {
	out := make([]types.VendorProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Default returns the first profile of the catalog.
func (r *Registry) Default() types.VendorProfile {
	return r.byID[r.order[0]].Clone()
}

// IDs returns the profile ids in declaration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}
