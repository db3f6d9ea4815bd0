package capability

import (
	"fmt"
	"sort"
)

// Registry maps module type tags to their ordered capability descriptors.
//
// A Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	table map[TypeTag][]Descriptor
}

// NewRegistry validates table and returns a Registry over a private copy.
func NewRegistry(table map[TypeTag][]Descriptor) (*Registry, error) {
	r := &Registry{table: make(map[TypeTag][]Descriptor, len(table))}

	for tag, descriptors := range table {
		if !Known(tag) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
		}

		seen := make(map[string]bool, len(descriptors))
		copied := make([]Descriptor, 0, len(descriptors))
		for _, d := range descriptors {
			if err := validateDescriptor(d); err != nil {
				return nil, fmt.Errorf("%s: %w", tag, err)
			}
			if seen[d.ID] {
				return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateCapability, tag, d.ID)
			}
			seen[d.ID] = true

			d.Values = append([]string(nil), d.Values...)
			copied = append(copied, d)
		}
		r.table[tag] = copied
	}

	return r, nil
}

func validateDescriptor(d Descriptor) error {
	if d.ID == "" || d.Path == "" {
		return fmt.Errorf("%w: id and path are required", ErrInvalidDescriptor)
	}
	switch d.Kind {
	case KindNumber, KindEnum, KindSchedule:
		return nil
	default:
		return fmt.Errorf("%w: %s has kind %q", ErrInvalidDescriptor, d.ID, d.Kind)
	}
}

// ForType returns the capability descriptors declared for tag, in table
// order. Unknown or unmapped tags yield an empty list.
func (r *Registry) ForType(tag TypeTag) []Descriptor {
	descriptors := r.table[tag]
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup finds one descriptor by type and capability ID.
func (r *Registry) Lookup(tag TypeTag, id string) (Descriptor, bool) {
	for _, d := range r.table[tag] {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// IDs returns the capability IDs declared for tag, in table order.
func (r *Registry) IDs(tag TypeTag) []string {
	descriptors := r.table[tag]
	ids := make([]string, len(descriptors))
	for i, d := range descriptors {
		ids[i] = d.ID
	}
	return ids
}

// Paths returns the capability-to-path map for tag, as stored on a device
// at pairing time.
func (r *Registry) Paths(tag TypeTag) map[string]string {
	paths := make(map[string]string, len(r.table[tag]))
	for _, d := range r.table[tag] {
		paths[d.ID] = d.Path
	}
	return paths
}

// Types returns the tags present in the registry, sorted.
func (r *Registry) Types() []TypeTag {
	tags := make([]TypeTag, 0, len(r.table))
	for tag := range r.table {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
