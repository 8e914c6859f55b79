package access

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	identPattern = regexp.MustCompile(`^[a-z][a-z_]*$`)
	mountPattern = regexp.MustCompile(`^/[a-z][a-z0-9_-]*$`)
	validate     = validator.New()

	// reservedNames collide with the gateway's own API routes.
	reservedNames = map[Feature]bool{"features": true, "access": true, "screens": true, "session": true}
)

// Upstream is one backend prefix served under a feature.
type Upstream struct {
	// Path is the backend prefix requests are forwarded to.
	Path string `yaml:"path" validate:"required,startswith=/"`
	// Mount places Path under /api/{feature}; empty is the feature root.
	Mount string `yaml:"mount" validate:"omitempty,startswith=/"`
	// Read treats every method as a read, for endpoints such as search or
	// prediction that take a POST body but change nothing.
	Read bool `yaml:"read"`
}

// UnmarshalYAML accepts a bare backend path for a root upstream or a
// mapping with path, mount and read.
func (u *Upstream) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*u = Upstream{}
		return node.Decode(&u.Path)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch key := node.Content[i]; key.Value {
		case "path", "mount", "read":
		default:
			return fmt.Errorf("line %d: unknown upstream field %q", key.Line, key.Value)
		}
	}
	type plain Upstream
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*u = Upstream(p)
	return nil
}

// FeatureSpec declares how one feature is gated.
type FeatureSpec struct {
	Name        Feature       `yaml:"name" json:"name" validate:"required,max=64"`
	Permission  PermissionKey `yaml:"permission" json:"-" validate:"required,max=64"`
	AdminOnly   bool          `yaml:"admin_only" json:"admin_only"`
	Upstreams   []Upstream    `yaml:"upstreams" json:"-" validate:"required,min=1,dive"`
	Description string        `yaml:"description" json:"description,omitempty"`
}

// Catalogue is the closed feature table. It is immutable once built.
type Catalogue struct {
	specs  []FeatureSpec
	byName map[Feature]FeatureSpec
	keys   []PermissionKey
}

// NewCatalogue validates specs and builds a Catalogue.
func NewCatalogue(specs []FeatureSpec) (*Catalogue, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no features declared", ErrInvalidCatalogue)
	}
	c := &Catalogue{
		specs:  make([]FeatureSpec, 0, len(specs)),
		byName: make(map[Feature]FeatureSpec, len(specs)),
		keys:   make([]PermissionKey, 0, len(specs)),
	}
	seenKeys := make(map[PermissionKey]Feature, len(specs))
	for i, spec := range specs {
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("%w: feature #%d: %v", ErrInvalidCatalogue, i, err)
		}
		if !identPattern.MatchString(string(spec.Name)) {
			return nil, fmt.Errorf("%w: feature name %q", ErrInvalidCatalogue, spec.Name)
		}
		if reservedNames[spec.Name] {
			return nil, fmt.Errorf("%w: feature name %q is reserved", ErrInvalidCatalogue, spec.Name)
		}
		if !identPattern.MatchString(string(spec.Permission)) {
			return nil, fmt.Errorf("%w: permission key %q", ErrInvalidCatalogue, spec.Permission)
		}
		if _, dup := c.byName[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrInvalidCatalogue, spec.Name)
		}
		if err := checkUpstreams(spec); err != nil {
			return nil, err
		}
		if other, dup := seenKeys[spec.Permission]; dup {
			return nil, fmt.Errorf("%w: permission key %q used by %q and %q", ErrInvalidCatalogue, spec.Permission, other, spec.Name)
		}
		seenKeys[spec.Permission] = spec.Name
		c.byName[spec.Name] = spec
		c.specs = append(c.specs, spec)
		c.keys = append(c.keys, spec.Permission)
	}
	return c, nil
}

func checkUpstreams(spec FeatureSpec) error {
	mounts := make(map[string]bool, len(spec.Upstreams))
	for _, up := range spec.Upstreams {
		if up.Mount != "" && !mountPattern.MatchString(up.Mount) {
			return fmt.Errorf("%w: feature %q mount %q must be one lowercase path segment", ErrInvalidCatalogue, spec.Name, up.Mount)
		}
		if mounts[up.Mount] {
			return fmt.Errorf("%w: feature %q mounts %q twice", ErrInvalidCatalogue, spec.Name, up.Mount)
		}
		mounts[up.Mount] = true
	}
	return nil
}

// DefaultCatalogue builds the catalogue from DefaultFeatures.
func DefaultCatalogue() *Catalogue {
	c, err := NewCatalogue(DefaultFeatures())
	if err != nil {
		panic(err)
	}
	return c
}

type featureFile struct {
	Features []FeatureSpec `yaml:"features"`
}

// LoadCatalogue reads a YAML feature table from path.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature table: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes a YAML feature table. Unknown fields are rejected.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var file featureFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}
	return NewCatalogue(file.Features)
}

// Lookup returns the FeatureSpec declared for feature.
func (c *Catalogue) Lookup(feature Feature) (FeatureSpec, bool) {
	spec, ok := c.byName[feature]
	return spec, ok
}

// KeyFor maps a feature to its permission key.
func (c *Catalogue) KeyFor(feature Feature) (PermissionKey, error) {
	spec, ok := c.byName[feature]
	if !ok {
		return "", &InvalidFeatureError{Feature: feature}
	}
	return spec.Permission, nil
}

// Features returns the declared features in table order.
func (c *Catalogue) Features() []FeatureSpec {
	out := make([]FeatureSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Keys returns every permission key in table order.
func (c *Catalogue) Keys() []PermissionKey {
	out := make([]PermissionKey, len(c.keys))
	copy(out, c.keys)
	return out
}

// HasKey reports whether key belongs to the catalogue.
func (c *Catalogue) HasKey(key PermissionKey) bool {
	for _, k := range c.keys {
		if k == key {
			return true
		}
	}
	return false
}
