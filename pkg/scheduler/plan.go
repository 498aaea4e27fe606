package scheduler

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/codeready-toolchain/tarsy-eval/pkg/judge"
)

// plan is the deterministic expansion of a RunSpec: every (scenario,
// profile, attempt) triple the run must execute, in the stable order
// spec.md §4.5 requires (scenarios outer, configurations inner,
// replications innermost), plus an index from natural key to the
// resolved scenario/profile/rubric content a worker needs to run it.
type plan struct {
	order []evalmodel.NaturalKey
	items map[evalmodel.NaturalKey]planItem

	totalScenarios int
	totalConfigs   int

	scenarioIDs  []string
	profileNames []string
}

type rubricBundle struct {
	rubric  judge.Rubric
	weights judge.WeightDescriptor
}

// buildPlan resolves scenarios and configurations through the injected
// catalogues and expands their Cartesian product. Replications <= 0 is
// treated as 1.
func buildPlan(ctx context.Context, runID string, spec RunSpec, scenarioCat ScenarioCatalogue, profileCat ProfileCatalogue) (*plan, error) {
	scenarios, err := scenarioCat.Resolve(ctx, spec)
	if err != nil {
		return nil, &ConfigError{Reason: "resolving scenarios", Err: err}
	}
	if len(scenarios) == 0 {
		return nil, &ConfigError{Reason: "no scenarios matched the run specification"}
	}

	profiles, err := profileCat.Resolve(ctx, spec)
	if err != nil {
		return nil, &ConfigError{Reason: "resolving configurations", Err: err}
	}
	if len(profiles) == 0 {
		return nil, &ConfigError{Reason: "no configurations matched the run specification"}
	}

	replications := spec.Replications
	if replications <= 0 {
		replications = 1
	}

	p := &plan{
		items:          map[evalmodel.NaturalKey]planItem{},
		totalScenarios: len(scenarios),
		totalConfigs:   len(profiles),
	}
	for _, scenario := range scenarios {
		p.scenarioIDs = append(p.scenarioIDs, scenario.ScenarioID)
	}
	for _, profile := range profiles {
		p.profileNames = append(p.profileNames, profile.ProfileName)
	}

	bundles := map[string]rubricBundle{}
	for _, scenario := range scenarios {
		if _, cached := bundles[scenario.ScenarioID]; cached {
			continue
		}
		rubric, err := scenarioCat.Rubric(ctx, scenario.ScenarioID)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("resolving rubric for %s", scenario.ScenarioID), Err: err}
		}
		weights, err := scenarioCat.Weights(ctx, scenario.ScenarioID)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("resolving weights for %s", scenario.ScenarioID), Err: err}
		}
		bundles[scenario.ScenarioID] = rubricBundle{rubric: rubric, weights: weights}
	}

	for _, scenario := range scenarios {
		bundle := bundles[scenario.ScenarioID]
		for _, profile := range profiles {
			for attempt := 1; attempt <= replications; attempt++ {
				key := evalmodel.NaturalKey{
					RunID:          runID,
					ScenarioID:     scenario.ScenarioID,
					ProfileName:    profile.ProfileName,
					AttemptOrdinal: attempt,
				}
				p.items[key] = planItem{
					scenario: scenario,
					profile:  profile,
					rubric:   bundle.rubric,
					weights:  bundle.weights,
				}
				p.order = append(p.order, key)
			}
		}
	}

	return p, nil
}
