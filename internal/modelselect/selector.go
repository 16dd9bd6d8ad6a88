package modelselect

import (
	"fmt"
	"sort"
	"strings"
)

// ModelInfo is one leaderboard entry consulted by the selection algorithm.
// ModelID is the bare leaderboard identifier matched against
// economicalModelIDs/premiumModelIDs; FullID() combines it with
// ProviderID the way every other component expects model ids to look.
type ModelInfo struct {
	ModelID         string
	ProviderID      string
	Category        string // leaderboard task category, e.g. "coding", "math"
	Score           float64
	OriginCN        bool
	AllowAutoSelect bool
}

func (m ModelInfo) FullID() string {
	if m.ProviderID == "" {
		return m.ModelID
	}
	return m.ProviderID + "/" + m.ModelID
}

// economicalModelIDs and premiumModelIDs partition the leaderboard into the
// two tiers step 5 of the algorithm prefers between, named after
// original_source's model_selector.py ECONOMICAL_MODELS/PREMIUM_MODELS.
var economicalModelIDs = map[string]bool{
	"claude-haiku-4-5":  true,
	"gemini-flash-latest": true,
	"gpt-oss-120b":       true,
}

var premiumModelIDs = map[string]bool{
	"claude-opus-4-6":   true,
	"claude-sonnet-4-6": true,
	"gemini-pro-latest": true,
	"gpt-5-2":           true,
}

// defaultFallbackModel and defaultFallbackModelAlt are always-available,
// reliable models; Alt is used whenever the primary selection already
// landed on the default, so fallback is never identical to primary.
const (
	defaultFallbackModel    = "anthropic/claude-sonnet-4-6"
	defaultFallbackModelAlt = "anthropic/claude-haiku-4-5"
)

// SelectionInput is everything the algorithm needs beyond the leaderboard
// itself (spec.md §4.10).
type SelectionInput struct {
	TaskArea          string
	Complexity        string // "simple" or "complex"
	ChinaRelated      bool   // from a preprocessing LLM, never keyword matching
	UserUnhappy       bool
	RequiredInputType string
	AvailableModelIDs []string

	// Category is set when a "@best-model:category" override is present —
	// it selects a leaderboard task category outright rather than acting
	// as an economical/premium tier switch.
	Category string
}

// SelectionResult is the algorithm's output (spec.md §4.10).
type SelectionResult struct {
	Primary          string
	Secondary        string
	Fallback         string
	Reason           string
	FilteredCNModels bool
}

// Select runs the seven-step leaderboard selection algorithm, grounded on
// original_source's model_selector.py select_models. A direct
// "@ai-model:" override is expected to be applied by the caller before
// reaching here (it bypasses this algorithm outright); a "@best-model:"
// override is passed in via SelectionInput.Category, which this algorithm
// honors at step 5 instead of the usual complexity-driven tier pick.
func Select(leaderboard []ModelInfo, in SelectionInput) SelectionResult {
	var reasons []string

	// Step 1+2: rank by score, keep only auto-select-eligible models.
	ranked := make([]ModelInfo, 0, len(leaderboard))
	for _, m := range leaderboard {
		if m.AllowAutoSelect {
			ranked = append(ranked, m)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) == 0 {
		reasons = append(reasons, "no models with allow_auto_select=true")
	} else {
		reasons = append(reasons, fmt.Sprintf("%d models with allow_auto_select=true", len(ranked)))
	}

	// Step 3: drop CN-origin models for China-sensitive content.
	if in.ChinaRelated {
		filtered := ranked[:0:0]
		for _, m := range ranked {
			if !m.OriginCN {
				filtered = append(filtered, m)
			}
		}
		ranked = filtered
		reasons = append(reasons, "CN models excluded (China-sensitive content)")
	}

	// Step 4: intersect with the caller-supplied availability set, if any.
	if len(in.AvailableModelIDs) > 0 {
		available := make(map[string]bool, len(in.AvailableModelIDs))
		for _, id := range in.AvailableModelIDs {
			available[id] = true
		}
		filtered := ranked[:0:0]
		for _, m := range ranked {
			if available[m.ModelID] {
				filtered = append(filtered, m)
			}
		}
		ranked = filtered
		reasons = append(reasons, fmt.Sprintf("filtered to %d available models", len(ranked)))
	}

	var primary, secondary ModelInfo
	havePrimary, haveSecondary := false, false

	// Step 5: pick the primary model.
	category := strings.ToLower(in.Category)
	switch {
	case category != "":
		for _, m := range ranked {
			if strings.EqualFold(m.Category, category) {
				primary, havePrimary = m, true
				reasons = append(reasons, fmt.Sprintf("best-model override selected top %s-category model: %s", category, m.FullID()))
				break
			}
		}
	case in.Complexity == "simple" && !in.UserUnhappy:
		for _, m := range ranked {
			if economicalModelIDs[m.ModelID] {
				primary, havePrimary = m, true
				reasons = append(reasons, "selected economical model: "+m.FullID())
				break
			}
		}
	case in.Complexity == "complex" || in.UserUnhappy:
		for _, m := range ranked {
			if premiumModelIDs[m.ModelID] {
				primary, havePrimary = m, true
				reasons = append(reasons, "selected premium model: "+m.FullID())
				break
			}
		}
	}
	if !havePrimary && len(ranked) > 0 {
		primary, havePrimary = ranked[0], true
		reasons = append(reasons, "selected top-ranked model (no tier match): "+primary.FullID())
	}

	// Step 6: secondary is the next ranked model with a different model id.
	if havePrimary {
		for _, m := range ranked {
			if m.ModelID != primary.ModelID {
				secondary, haveSecondary = m, true
				break
			}
		}
	}

	// Step 7: hard-coded fallback, always distinct from primary.
	primaryFullID := defaultFallbackModel
	if havePrimary {
		primaryFullID = primary.FullID()
	} else {
		reasons = append(reasons, "no ranked models available, using default: "+defaultFallbackModel)
	}
	fallback := defaultFallbackModel
	if fallback == primaryFullID {
		fallback = defaultFallbackModelAlt
	}

	secondaryFullID := ""
	if haveSecondary {
		secondaryFullID = secondary.FullID()
	}

	return SelectionResult{
		Primary:          primaryFullID,
		Secondary:        secondaryFullID,
		Fallback:         fallback,
		Reason:           strings.Join(reasons, "; "),
		FilteredCNModels: in.ChinaRelated,
	}
}

// ResolveModel applies the user-override short-circuit (spec.md §4.10
// "User override short-circuit") before falling back to Select: a direct
// "@ai-model:" always wins outright, a "@best-model:category" feeds the
// category into the normal algorithm instead of bypassing it.
func ResolveModel(leaderboard []ModelInfo, overrides []Override, in SelectionInput) SelectionResult {
	if modelID, ok := Find(overrides, DirectiveAIModel); ok {
		return SelectionResult{Primary: modelID, Reason: "direct @ai-model override"}
	}
	if category, ok := Find(overrides, DirectiveBestModel); ok {
		in.Category = category
	}
	return Select(leaderboard, in)
}
