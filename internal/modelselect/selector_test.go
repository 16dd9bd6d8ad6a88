package modelselect

import "testing"

var leaderboard = []ModelInfo{
	{ModelID: "claude-haiku-4-5", ProviderID: "anthropic", Category: "general", Score: 10, AllowAutoSelect: true},
	{ModelID: "gemini-flash-latest", ProviderID: "google", Category: "general", Score: 20, AllowAutoSelect: true},
	{ModelID: "claude-opus-4-6", ProviderID: "anthropic", Category: "coding", Score: 50, AllowAutoSelect: true},
	{ModelID: "qwen-max", ProviderID: "alibaba", Category: "coding", Score: 90, OriginCN: true, AllowAutoSelect: true},
	{ModelID: "not-auto-selectable", ProviderID: "mistral", Category: "general", Score: 95, AllowAutoSelect: false},
}

func TestSelectSimpleTaskPrefersEconomical(t *testing.T) {
	got := Select(leaderboard, SelectionInput{Complexity: "simple"})
	if got.Primary != "google/gemini-flash-latest" {
		t.Fatalf("Primary = %q, want %q", got.Primary, "google/gemini-flash-latest")
	}
}

func TestSelectComplexTaskPrefersPremium(t *testing.T) {
	got := Select(leaderboard, SelectionInput{Complexity: "complex"})
	if got.Primary != "anthropic/claude-opus-4-6" {
		t.Fatalf("Primary = %q, want %q", got.Primary, "anthropic/claude-opus-4-6")
	}
}

func TestSelectUserUnhappyForcesPremiumEvenOnSimpleTask(t *testing.T) {
	got := Select(leaderboard, SelectionInput{Complexity: "simple", UserUnhappy: true})
	if got.Primary != "anthropic/claude-opus-4-6" {
		t.Fatalf("Primary = %q, want %q", got.Primary, "anthropic/claude-opus-4-6")
	}
}

func TestSelectChinaRelatedExcludesCNModels(t *testing.T) {
	got := Select(leaderboard, SelectionInput{Complexity: "complex", ChinaRelated: true})
	if got.Primary == "alibaba/qwen-max" {
		t.Fatalf("Primary = %q, CN model should have been excluded", got.Primary)
	}
	if !got.FilteredCNModels {
		t.Error("FilteredCNModels should be true when china_related is set")
	}
}

func TestSelectExcludesModelsWithAllowAutoSelectFalse(t *testing.T) {
	got := Select(leaderboard, SelectionInput{Complexity: "simple"})
	if got.Primary == "mistral/not-auto-selectable" && got.Secondary == "mistral/not-auto-selectable" {
		t.Error("a model with allow_auto_select=false must never be chosen automatically")
	}
}

func TestSelectAvailableModelIDsIntersects(t *testing.T) {
	got := Select(leaderboard, SelectionInput{
		Complexity:        "complex",
		AvailableModelIDs: []string{"claude-haiku-4-5"},
	})
	if got.Primary != "anthropic/claude-haiku-4-5" {
		t.Fatalf("Primary = %q, want the only available model", got.Primary)
	}
}

func TestSelectBestModelCategoryPicksTopOfCategoryNotATier(t *testing.T) {
	// @best-model:coding must select the top-ranked model in the "coding"
	// leaderboard category — not an economical/premium tier.
	got := Select(leaderboard, SelectionInput{Complexity: "simple", Category: "coding"})
	if got.Primary != "anthropic/claude-opus-4-6" {
		t.Fatalf("Primary = %q, want top coding-category model %q", got.Primary, "anthropic/claude-opus-4-6")
	}
}

func TestSelectSecondaryDiffersFromPrimary(t *testing.T) {
	got := Select(leaderboard, SelectionInput{Complexity: "simple"})
	if got.Secondary == "" || got.Secondary == got.Primary {
		t.Errorf("Secondary = %q, want a distinct model from primary %q", got.Secondary, got.Primary)
	}
}

func TestSelectFallbackNeverEqualsPrimary(t *testing.T) {
	got := Select(nil, SelectionInput{Complexity: "simple"})
	if got.Primary != defaultFallbackModel {
		t.Fatalf("Primary = %q, want default fallback %q when leaderboard is empty", got.Primary, defaultFallbackModel)
	}
	if got.Fallback == got.Primary {
		t.Errorf("Fallback must never equal Primary, got both %q", got.Fallback)
	}
}

func TestResolveModelDirectOverrideWinsOutright(t *testing.T) {
	overrides := []Override{{Kind: DirectiveAIModel, Value: "openrouter/gpt-5"}}
	got := ResolveModel(leaderboard, overrides, SelectionInput{Complexity: "complex"})
	if got.Primary != "openrouter/gpt-5" {
		t.Fatalf("Primary = %q, want direct override %q", got.Primary, "openrouter/gpt-5")
	}
}

func TestResolveModelBestModelOverrideFeedsCategoryNotTier(t *testing.T) {
	overrides := []Override{{Kind: DirectiveBestModel, Value: "coding"}}
	got := ResolveModel(leaderboard, overrides, SelectionInput{Complexity: "simple"})
	if got.Primary != "alibaba/qwen-max" {
		t.Fatalf("Primary = %q, want top coding-category model via @best-model override", got.Primary)
	}
}
