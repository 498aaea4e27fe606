package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosYAML = `
- scenario_id: fractions-1
  scenario_name: Adding fractions with unlike denominators
  cluster_tags: [arithmetic]
  system_prompt_tutor_ego: be encouraging
  initial_context: the learner adds 1/2 + 1/3 and gets 2/5
  max_learner_turns: 2
  required_elements: [common denominator]
  dimensions: [accuracy, clarity]
  weights: {accuracy: 0.6, clarity: 0.4}
  base_dimensions: [accuracy, clarity]
`

const profilesYAML = `
- profile_name: custom-mix
  multi_agent_tutor: true
  psych_split_learner: false
  max_revision_rounds: 2
  provider: anthropic
  ego_model: claude-custom
`

func writeContentDir(t *testing.T, scenarios, profiles string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenarios.yaml"), []byte(scenarios), 0o644))
	if profiles != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "profiles.yaml"), []byte(profiles), 0o644))
	}
	return dir
}

func TestLoad_requiresAtLeastOneScenario(t *testing.T) {
	dir := writeContentDir(t, "[]", "")
	_, err := Load(dir, ModelTemplate{})
	assert.Error(t, err)
}

func TestLoad_profilesYAMLIsOptional(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, "")
	cat, err := Load(dir, ModelTemplate{Provider: "anthropic", EgoModel: "m", SuperegoModel: "m", LearnerModel: "m", MaxRevisionRounds: 3})
	require.NoError(t, err)

	profiles, err := cat.Profiles().Resolve(context.Background(), scheduler.RunSpec{FactorialCells: true})
	require.NoError(t, err)
	assert.Len(t, profiles, 8)
}

func TestCatalogue_ResolveFiltersByScenarioID(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, profilesYAML)
	cat, err := Load(dir, ModelTemplate{})
	require.NoError(t, err)

	scenarios, err := cat.Resolve(context.Background(), scheduler.RunSpec{Scenarios: []string{"fractions-1"}})
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "Adding fractions with unlike denominators", scenarios[0].ScenarioName)
}

func TestCatalogue_ResolveUnknownScenarioIDYieldsEmpty(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, "")
	cat, err := Load(dir, ModelTemplate{})
	require.NoError(t, err)

	scenarios, err := cat.Resolve(context.Background(), scheduler.RunSpec{Scenarios: []string{"nope"}})
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}

func TestCatalogue_RubricAndWeightsResolveFromScenarioDef(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, "")
	cat, err := Load(dir, ModelTemplate{})
	require.NoError(t, err)

	rubric, err := cat.Rubric(context.Background(), "fractions-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"common denominator"}, rubric.RequiredElements)

	weights, err := cat.Weights(context.Background(), "fractions-1")
	require.NoError(t, err)
	assert.Equal(t, 0.6, weights.Weight["accuracy"])
}

func TestCatalogue_RubricUnknownScenarioErrors(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, "")
	cat, err := Load(dir, ModelTemplate{})
	require.NoError(t, err)

	_, err = cat.Rubric(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestProfiles_ResolveByExplicitNameMixesCellsAndCustomProfiles(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, profilesYAML)
	cat, err := Load(dir, ModelTemplate{Provider: "anthropic", EgoModel: "default-model", MaxRevisionRounds: 3})
	require.NoError(t, err)

	profiles, err := cat.Profiles().Resolve(context.Background(), scheduler.RunSpec{Profiles: []string{"cell_1", "custom-mix"}})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "cell_1", profiles[0].ProfileName)
	assert.Equal(t, "custom-mix", profiles[1].ProfileName)
	assert.Equal(t, "claude-custom", profiles[1].EgoModel)
}

func TestProfiles_ResolveUnknownNameErrors(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, "")
	cat, err := Load(dir, ModelTemplate{})
	require.NoError(t, err)

	_, err = cat.Profiles().Resolve(context.Background(), scheduler.RunSpec{Profiles: []string{"ghost"}})
	assert.Error(t, err)
}

func TestProfiles_ModelOverridesApplyOnlyToNamedRoles(t *testing.T) {
	dir := writeContentDir(t, scenariosYAML, "")
	cat, err := Load(dir, ModelTemplate{Provider: "anthropic", EgoModel: "base-ego", SuperegoModel: "base-super", LearnerModel: "base-learner"})
	require.NoError(t, err)

	profiles, err := cat.Profiles().Resolve(context.Background(), scheduler.RunSpec{
		Profiles:       []string{"cell_8"},
		ModelOverrides: map[backend.Role]string{backend.RoleSuperego: "override-super"},
	})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "base-ego", profiles[0].EgoModel)
}
