package schema

import (
	"net/http"
	"sort"

	"github.com/kestrelsearch/kestrel/pkg/config"
	"github.com/kestrelsearch/kestrel/pkg/errors"
)

// FieldOptions are the partial per-field attributes accepted by the resolver.
// Every zero value means "resolve a default".
type FieldOptions struct {
	StoredName    string
	StorageClass  string
	Boost         float64
	ContentFilter string
}

// Resolver turns raw field configuration into complete schemas. The three
// deny-lists assign default storage classes to known field names; fields on
// no list fall back to Unstored.
type Resolver struct {
	unstored  map[string]struct{}
	unindexed map[string]struct{}
	keyword   map[string]struct{}
}

// NewResolver builds a Resolver from deny-list configuration.
func NewResolver(cfg config.DenyListsConfig) *Resolver {
	return &Resolver{
		unstored:  toSet(cfg.Unstored),
		unindexed: toSet(cfg.Unindexed),
		keyword:   toSet(cfg.Keyword),
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Resolve produces the complete schema for a record class. The raw
// configuration is either a mapping of field name to partial options or a
// flat list of field names; anything else fails with a configuration error.
// Resolution is pure: identical input always yields an identical schema.
func (r *Resolver) Resolve(class string, raw any) (*Schema, error) {
	options, err := normalizeRaw(class, raw)
	if err != nil {
		return nil, err
	}

	fields := make([]FieldSpec, 0, len(options)+3)
	for name, opts := range options {
		spec, err := r.resolveField(class, name, opts)
		if err != nil {
			return nil, err
		}
		fields = append(fields, spec)
	}
	fields = append(fields,
		FieldSpec{SourceName: IdentityField, StoredName: IdentityField, Class: Keyword, Boost: 1.0},
		FieldSpec{SourceName: DiscriminatorField, StoredName: DiscriminatorField, Class: Keyword, Boost: 1.0},
		FieldSpec{SourceName: TimestampField, StoredName: TimestampField, Class: Keyword, Boost: 1.0},
	)

	sort.Slice(fields, func(i, j int) bool {
		return fields[i].StoredName < fields[j].StoredName
	})
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.StoredName]; dup {
			return nil, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
				"class %s: duplicate stored field name %q", class, f.StoredName)
		}
		seen[f.StoredName] = struct{}{}
	}
	return &Schema{Class: class, Fields: fields}, nil
}

// resolveField completes one field spec. Storage class resolution order:
// explicit config, deny-list membership, then the Unstored fallback.
func (r *Resolver) resolveField(class, name string, opts FieldOptions) (FieldSpec, error) {
	spec := FieldSpec{
		SourceName: name,
		StoredName: opts.StoredName,
		Boost:      opts.Boost,
	}
	if spec.StoredName == "" {
		spec.StoredName = name
	}
	if spec.StoredName == IdentityField || spec.StoredName == DiscriminatorField || spec.StoredName == TimestampField {
		return FieldSpec{}, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
			"class %s: stored name %q is reserved and cannot be assigned to field %q",
			class, spec.StoredName, name)
	}
	if spec.Boost == 0 {
		spec.Boost = 1.0
	}
	if spec.Boost <= 0 {
		return FieldSpec{}, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
			"class %s: field %q: boost must be positive, got %v", class, name, opts.Boost)
	}

	switch {
	case opts.StorageClass != "":
		cls, err := ParseStorageClass(opts.StorageClass)
		if err != nil {
			return FieldSpec{}, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
				"class %s: field %q: %v", class, name, err)
		}
		spec.Class = cls
	case member(r.unstored, name):
		spec.Class = Unstored
	case member(r.unindexed, name):
		spec.Class = Unindexed
	case member(r.keyword, name):
		spec.Class = Keyword
	default:
		spec.Class = Unstored
	}

	if opts.ContentFilter != "" {
		if _, ok := lookupFilter(opts.ContentFilter); !ok {
			return FieldSpec{}, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
				"class %s: field %q: unknown content filter %q", class, name, opts.ContentFilter)
		}
		spec.ContentFilter = opts.ContentFilter
	}
	return spec, nil
}

func member(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}

// normalizeRaw converts the two accepted configuration shapes into a uniform
// field-name to options map.
func normalizeRaw(class string, raw any) (map[string]FieldOptions, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]FieldOptions{}, nil
	case map[string]FieldOptions:
		return v, nil
	case []string:
		options := make(map[string]FieldOptions, len(v))
		for _, name := range v {
			options[name] = FieldOptions{}
		}
		return options, nil
	case map[string]any:
		options := make(map[string]FieldOptions, len(v))
		for name, rawOpts := range v {
			opts, err := decodeOptions(class, name, rawOpts)
			if err != nil {
				return nil, err
			}
			options[name] = opts
		}
		return options, nil
	case []any:
		options := make(map[string]FieldOptions, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
					"class %s: field list entries must be strings, got %T", class, item)
			}
			options[name] = FieldOptions{}
		}
		return options, nil
	default:
		return nil, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
			"class %s: field configuration must be a mapping or a list of names, got %T", class, raw)
	}
}

// decodeOptions converts one YAML-decoded field entry into FieldOptions.
// A nil entry means "all defaults".
func decodeOptions(class, name string, raw any) (FieldOptions, error) {
	if raw == nil {
		return FieldOptions{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return FieldOptions{}, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
			"class %s: field %q: options must be a mapping, got %T", class, name, raw)
	}
	var opts FieldOptions
	for key, val := range m {
		switch key {
		case "storedName":
			s, ok := val.(string)
			if !ok {
				return FieldOptions{}, badOption(class, name, key, val)
			}
			opts.StoredName = s
		case "storageClass":
			s, ok := val.(string)
			if !ok {
				return FieldOptions{}, badOption(class, name, key, val)
			}
			opts.StorageClass = s
		case "boost":
			switch b := val.(type) {
			case float64:
				opts.Boost = b
			case int:
				opts.Boost = float64(b)
			default:
				return FieldOptions{}, badOption(class, name, key, val)
			}
		case "contentFilter":
			s, ok := val.(string)
			if !ok {
				return FieldOptions{}, badOption(class, name, key, val)
			}
			opts.ContentFilter = s
		default:
			return FieldOptions{}, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
				"class %s: field %q: unknown option %q", class, name, key)
		}
	}
	return opts, nil
}

func badOption(class, name, key string, val any) error {
	return errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
		"class %s: field %q: invalid value for %q: %v", class, name, key, val)
}
