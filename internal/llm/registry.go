package llm

import "strings"

// ProviderSpec describes one known vendor or gateway for model-name
// resolution: how to prefix a bare model id for a litellm-style gateway,
// which prefixes are already gateway-qualified and should be left alone,
// and any per-model parameter overrides.
type ProviderSpec struct {
	Name             string
	DefaultAPIBase   string
	LitellmPrefix    string
	SkipPrefixes     []string
	StripModelPrefix bool
	// ModelOverrides maps a substring match against the lowercased model
	// name to a set of request parameter overrides, e.g. a reasoning
	// model that needs "temperature" pinned to 1.
	ModelOverrides map[string]map[string]any
	// ModelMatch returns true when this spec owns the given bare model
	// name, for standard-mode (non-gateway) prefixing.
	ModelMatch func(model string) bool
}

// Registry resolves a requested model name to a concrete provider and
// api_base, mirroring the prefixing rules of a litellm-style gateway:
// gateway mode rewrites every model through one spec chosen by api_base
// or provider name; standard mode auto-prefixes a bare model id only
// when the registry recognizes it and the id doesn't already carry a
// skip-listed prefix.
type Registry struct {
	specs   []ProviderSpec
	byName  map[string]*ProviderSpec
	gateways []ProviderSpec
}

// NewRegistry builds a Registry seeded with the known vendor specs plus
// any caller-supplied gateway specs (e.g. from config, for self-hosted
// litellm/openrouter-compatible endpoints).
func NewRegistry(gateways ...ProviderSpec) *Registry {
	r := &Registry{byName: make(map[string]*ProviderSpec)}
	r.specs = defaultSpecs()
	for i := range r.specs {
		r.byName[r.specs[i].Name] = &r.specs[i]
	}
	r.gateways = gateways
	return r
}

func defaultSpecs() []ProviderSpec {
	return []ProviderSpec{
		{
			Name:          "anthropic",
			LitellmPrefix: "anthropic",
			SkipPrefixes:  []string{"anthropic/", "claude"},
			ModelMatch:    func(m string) bool { return strings.Contains(m, "claude") },
		},
		{
			Name:          "openai",
			LitellmPrefix: "openai",
			SkipPrefixes:  []string{"openai/", "gpt-", "o1", "o3"},
			ModelMatch: func(m string) bool {
				return strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3")
			},
		},
		{
			Name:          "gemini",
			LitellmPrefix: "gemini",
			SkipPrefixes:  []string{"gemini/"},
			ModelMatch:    func(m string) bool { return strings.Contains(m, "gemini") },
		},
		{
			Name:          "bedrock",
			LitellmPrefix: "bedrock",
			SkipPrefixes:  []string{"bedrock/"},
			ModelMatch:    func(m string) bool { return strings.Contains(m, "anthropic.claude") || strings.Contains(m, "amazon.") },
		},
		{
			Name:          "deepseek",
			LitellmPrefix: "deepseek",
			ModelMatch:    func(m string) bool { return strings.Contains(m, "deepseek") },
		},
		{
			Name:          "dashscope",
			LitellmPrefix: "dashscope",
			ModelMatch:    func(m string) bool { return strings.Contains(m, "qwen") },
		},
	}
}

// FindByName returns the spec registered under name, if any.
func (r *Registry) FindByName(name string) *ProviderSpec {
	return r.byName[name]
}

// FindByModel returns the spec whose ModelMatch recognizes model.
func (r *Registry) FindByModel(model string) *ProviderSpec {
	for i := range r.specs {
		if r.specs[i].ModelMatch != nil && r.specs[i].ModelMatch(model) {
			return &r.specs[i]
		}
	}
	return nil
}

// FindGateway returns a gateway spec matching providerName or apiBase,
// for when the caller has configured an explicit OpenAI-compatible
// endpoint rather than relying on auto-detection.
func (r *Registry) FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	for i := range r.gateways {
		g := &r.gateways[i]
		if providerName != "" && g.Name == providerName {
			return g
		}
		if apiBase != "" && g.DefaultAPIBase != "" && strings.Contains(apiBase, g.DefaultAPIBase) {
			return g
		}
	}
	return nil
}

// ResolveModel applies the gateway or standard-mode prefixing rule to a
// bare model id, mirroring the litellm client's resolve_model.
func (r *Registry) ResolveModel(model string, gateway *ProviderSpec) string {
	if gateway != nil {
		resolved := model
		if gateway.StripModelPrefix {
			if idx := strings.LastIndex(model, "/"); idx >= 0 {
				resolved = model[idx+1:]
			}
		}
		if gateway.LitellmPrefix != "" && !strings.HasPrefix(resolved, gateway.LitellmPrefix+"/") {
			resolved = gateway.LitellmPrefix + "/" + resolved
		}
		return resolved
	}

	if spec := r.FindByModel(model); spec != nil && spec.LitellmPrefix != "" {
		skip := false
		for _, prefix := range spec.SkipPrefixes {
			if strings.HasPrefix(model, prefix) {
				skip = true
				break
			}
		}
		if !skip {
			return spec.LitellmPrefix + "/" + model
		}
	}
	return model
}

// ApplyModelOverrides returns the parameter overrides registered for a
// substring-matching pattern in the owning spec's ModelOverrides. The
// patterns are map keys, so which one wins when several match is not
// defined.
func (r *Registry) ApplyModelOverrides(model string) map[string]any {
	lower := strings.ToLower(model)
	spec := r.FindByModel(model)
	if spec == nil {
		return nil
	}
	for pattern, overrides := range spec.ModelOverrides {
		if strings.Contains(lower, pattern) {
			return overrides
		}
	}
	return nil
}
