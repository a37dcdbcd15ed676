package llm

import "testing"

func TestRegistry_ResolveModel_StandardMode(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		model string
		want  string
	}{
		{"deepseek-chat", "deepseek/deepseek-chat"},
		{"claude-3-opus", "claude-3-opus"}, // already recognized, skip-prefixed
		{"qwen-max", "dashscope/qwen-max"},
	}
	for _, tt := range tests {
		if got := r.ResolveModel(tt.model, nil); got != tt.want {
			t.Errorf("ResolveModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestRegistry_ResolveModel_GatewayMode(t *testing.T) {
	r := NewRegistry()

	openrouter := &ProviderSpec{Name: "openrouter", LitellmPrefix: "openrouter"}
	if got, want := r.ResolveModel("claude-3-opus", openrouter), "openrouter/claude-3-opus"; got != want {
		t.Errorf("gateway resolve = %q, want %q", got, want)
	}

	aihubmix := &ProviderSpec{Name: "aihubmix", LitellmPrefix: "openai", StripModelPrefix: true}
	if got, want := r.ResolveModel("anthropic/claude-3-opus", aihubmix), "openai/claude-3-opus"; got != want {
		t.Errorf("gateway strip+prefix resolve = %q, want %q", got, want)
	}
}

func TestRegistry_FindByModel(t *testing.T) {
	r := NewRegistry()
	if spec := r.FindByModel("gpt-4o"); spec == nil || spec.Name != "openai" {
		t.Errorf("FindByModel(gpt-4o) did not resolve to openai spec")
	}
	if spec := r.FindByModel("unknown-model-xyz"); spec != nil {
		t.Errorf("FindByModel(unknown) = %v, want nil", spec)
	}
}
