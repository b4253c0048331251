package stemcell

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is the stemcell.MF document.
type Manifest map[string]any

// DefaultManifest returns the computed manifest for cfg before any caller
// supplied overrides are applied.
func DefaultManifest(cfg Config) Manifest {
	return Manifest{
		"name":          cfg.Name,
		"version":       cfg.AgentVersion,
		"bosh_protocol": cfg.BoshProtocol,
		"cloud_properties": map[string]any{
			"infrastructure": cfg.Infrastructure,
			"architecture":   cfg.Architecture.String(),
		},
	}
}

// BuildManifest deep-merges override onto the computed defaults. Override
// leaves win; nested mappings are merged key by key so a partial
// cloud_properties override keeps the remaining defaults.
func BuildManifest(override map[string]any, cfg Config) Manifest {
	return Manifest(DeepMerge(DefaultManifest(cfg), override))
}

// DeepMerge returns a new mapping holding base with override merged on top.
// Neither argument is modified.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = cloneValue(v)
	}

	for k, ov := range override {
		overrideMap, ok := asMapping(ov)
		if !ok {
			out[k] = cloneValue(ov)
			continue
		}
		if baseMap, ok := asMapping(out[k]); ok {
			out[k] = DeepMerge(baseMap, overrideMap)
			continue
		}
		out[k] = DeepMerge(nil, overrideMap)
	}
	return out
}

// Marshal serializes the manifest as YAML.
func (m Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal stemcell manifest: %w", err)
	}
	return data, nil
}

// ParseManifest decodes a YAML mapping, e.g. a stemcell.MF or an override file.
func ParseManifest(data []byte) (Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if raw == nil {
		return Manifest{}, nil
	}
	return Manifest(DeepMerge(nil, raw)), nil
}

func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Manifest:
		return map[string]any(m), true
	case map[string]any:
		return m, true
	case map[any]any:
		converted := make(map[string]any, len(m))
		for k, inner := range m {
			converted[fmt.Sprint(k)] = inner
		}
		return converted, true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	if m, ok := asMapping(v); ok {
		return DeepMerge(nil, m)
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
