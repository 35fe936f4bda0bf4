// Package endpoints holds the read-only catalog of external API endpoints
// the knowledge orchestrator draws from. The registry document is supplied
// by a provider (embedded, file, consul, etcd, zookeeper), parsed from YAML
// or JSON, and validated before use.
package endpoints

import (
	"fmt"
	"net/url"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/iron-manus/jarvis/pkg/roles"
)

// Descriptor describes one external endpoint. Descriptors are immutable
// after load.
type Descriptor struct {
	ID               string       `json:"id" yaml:"id" mapstructure:"id"`
	Name             string       `json:"name" yaml:"name" mapstructure:"name"`
	URL              string       `json:"url" yaml:"url" mapstructure:"url"`
	Category         string       `json:"category" yaml:"category" mapstructure:"category"`
	RoleAffinity     []roles.Role `json:"role_affinity" yaml:"role_affinity" mapstructure:"role_affinity"`
	AuthHint         string       `json:"auth_hint,omitempty" yaml:"auth_hint,omitempty" mapstructure:"auth_hint"`
	ConfidenceWeight float64      `json:"confidence_weight" yaml:"confidence_weight" mapstructure:"confidence_weight"`
}

// HasAffinity reports whether the descriptor lists role.
func (d Descriptor) HasAffinity(role roles.Role) bool {
	for _, r := range d.RoleAffinity {
		if r == role {
			return true
		}
	}
	return false
}

// document is the on-disk registry shape.
type document struct {
	Endpoints []map[string]any `yaml:"endpoints"`
}

// Parse decodes a registry document. YAML and JSON are both accepted
// (JSON parses as YAML). Each entry is decoded weakly so numeric and
// string spellings from hand-edited files are tolerated.
func Parse(data []byte) ([]Descriptor, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry document: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(doc.Endpoints))
	for i, raw := range doc.Endpoints {
		var d Descriptor
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &d,
		})
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// Validate checks a descriptor set: non-empty unique ids, names, absolute
// http(s) URLs, weights within [0,1], and known roles.
func Validate(descriptors []Descriptor) error {
	seen := make(map[string]struct{}, len(descriptors))
	for i, d := range descriptors {
		if d.ID == "" {
			return fmt.Errorf("endpoint %d: id must not be empty", i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("endpoint %q: duplicate id", d.ID)
		}
		seen[d.ID] = struct{}{}

		if d.Name == "" {
			return fmt.Errorf("endpoint %q: name must not be empty", d.ID)
		}
		u, err := url.Parse(d.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("endpoint %q: url must be an absolute http(s) URL, got %q", d.ID, d.URL)
		}
		if d.ConfidenceWeight < 0 || d.ConfidenceWeight > 1 {
			return fmt.Errorf("endpoint %q: confidence_weight must be between 0 and 1, got %v", d.ID, d.ConfidenceWeight)
		}
		for _, r := range d.RoleAffinity {
			if !r.Valid() {
				return fmt.Errorf("endpoint %q: unknown role %q in role_affinity", d.ID, r)
			}
		}
	}
	return nil
}
