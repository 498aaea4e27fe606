// Package content loads the scenario and profile definitions a run
// references. spec.md §1 places scenario/profile/provider YAML catalogues
// out of the core's scope; this package is the external collaborator the
// core's ScenarioCatalogue/ProfileCatalogue seams were built against,
// grounded on the teacher's pkg/config/loader.go YAML-file idiom.
package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/dialogue"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/codeready-toolchain/tarsy-eval/pkg/judge"
	"github.com/codeready-toolchain/tarsy-eval/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

// ScenarioDef is one scenario's on-disk YAML shape.
type ScenarioDef struct {
	ScenarioID   string   `yaml:"scenario_id"`
	ScenarioName string   `yaml:"scenario_name"`
	ClusterTags  []string `yaml:"cluster_tags"`

	SystemPromptTutorEgo      string `yaml:"system_prompt_tutor_ego"`
	SystemPromptTutorSuperego string `yaml:"system_prompt_tutor_superego"`
	SystemPromptLearnerEgo    string `yaml:"system_prompt_learner_ego"`
	SystemPromptLearnerSuper  string `yaml:"system_prompt_learner_superego"`
	InitialContext            string `yaml:"initial_context"`
	MaxLearnerTurns           int    `yaml:"max_learner_turns"`

	RequiredElements  []string `yaml:"required_elements"`
	ForbiddenElements []string `yaml:"forbidden_elements"`
	ExpectedBehavior  string   `yaml:"expected_behavior"`
	Dimensions        []string `yaml:"dimensions"`

	Weights               map[string]float64 `yaml:"weights"`
	BaseDimensions        []string           `yaml:"base_dimensions"`
	RecognitionDimensions []string           `yaml:"recognition_dimensions"`
}

// ProfileDef is one custom profile's on-disk YAML shape. The built-in
// factorial cells (cell_1..cell_8) never need a file entry — they're
// derived mechanically from evalmodel.Cell, templated from Defaults.
type ProfileDef struct {
	ProfileName       string `yaml:"profile_name"`
	MultiAgentTutor   bool   `yaml:"multi_agent_tutor"`
	PsychSplitLearner bool   `yaml:"psych_split_learner"`
	MaxRevisionRounds int    `yaml:"max_revision_rounds"`
	HardTurnCap       int    `yaml:"hard_turn_cap"`

	Provider      string `yaml:"provider"`
	EgoModel      string `yaml:"ego_model"`
	SuperegoModel string `yaml:"superego_model"`
	LearnerModel  string `yaml:"learner_model"`
}

// ModelTemplate is the provider/model fingerprint applied to every
// mechanically derived factorial-cell profile, overridable per run via
// RunSpec.ModelOverrides.
type ModelTemplate struct {
	Provider          string
	EgoModel          string
	SuperegoModel     string
	LearnerModel      string
	MaxRevisionRounds int
}

// Catalogue loads scenarios.yaml and profiles.yaml from a content
// directory and implements both scheduler.ScenarioCatalogue and
// scheduler.ProfileCatalogue against them.
type Catalogue struct {
	scenarios []ScenarioDef
	profiles  []ProfileDef
	template  ModelTemplate
}

// Load reads <dir>/scenarios.yaml and <dir>/profiles.yaml. profiles.yaml
// is optional — a content directory with only scenarios can still run the
// built-in factorial cells.
func Load(dir string, template ModelTemplate) (*Catalogue, error) {
	var scenarios []ScenarioDef
	if err := readYAML(filepath.Join(dir, "scenarios.yaml"), &scenarios); err != nil {
		return nil, fmt.Errorf("loading scenarios: %w", err)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("content directory %s defines no scenarios", dir)
	}

	var profiles []ProfileDef
	profilesPath := filepath.Join(dir, "profiles.yaml")
	if _, err := os.Stat(profilesPath); err == nil {
		if err := readYAML(profilesPath, &profiles); err != nil {
			return nil, fmt.Errorf("loading profiles: %w", err)
		}
	}

	return &Catalogue{scenarios: scenarios, profiles: profiles, template: template}, nil
}

// DefaultModelTemplate returns a template naming provider/model/K from
// environment-style defaults, overridden per-role by spec.ModelOverrides.
func DefaultModelTemplate(provider, egoModel, superegoModel, learnerModel string, maxRevisionRounds int) ModelTemplate {
	return ModelTemplate{
		Provider: provider, EgoModel: egoModel, SuperegoModel: superegoModel,
		LearnerModel: learnerModel, MaxRevisionRounds: maxRevisionRounds,
	}
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// Resolve implements scheduler.ScenarioCatalogue.
func (c *Catalogue) Resolve(_ context.Context, spec scheduler.RunSpec) ([]dialogue.ScenarioScript, error) {
	wanted := map[string]bool{}
	for _, id := range spec.Scenarios {
		wanted[id] = true
	}

	var out []dialogue.ScenarioScript
	for _, def := range c.scenarios {
		if !spec.AllScenarios {
			if len(wanted) > 0 && !wanted[def.ScenarioID] {
				continue
			}
			if len(spec.ClusterTags) > 0 && !hasAnyTag(def.ClusterTags, spec.ClusterTags) {
				continue
			}
		}
		out = append(out, dialogue.ScenarioScript{
			ScenarioID:                def.ScenarioID,
			ScenarioName:              def.ScenarioName,
			SystemPromptTutorEgo:      def.SystemPromptTutorEgo,
			SystemPromptTutorSuperego: def.SystemPromptTutorSuperego,
			SystemPromptLearnerEgo:    def.SystemPromptLearnerEgo,
			SystemPromptLearnerSuper:  def.SystemPromptLearnerSuper,
			InitialContext:            def.InitialContext,
			MaxLearnerTurns:           def.MaxLearnerTurns,
		})
	}
	return out, nil
}

// Rubric implements scheduler.ScenarioCatalogue.
func (c *Catalogue) Rubric(_ context.Context, scenarioID string) (judge.Rubric, error) {
	def, ok := c.find(scenarioID)
	if !ok {
		return judge.Rubric{}, fmt.Errorf("unknown scenario %q", scenarioID)
	}
	return judge.Rubric{
		ScenarioID:        def.ScenarioID,
		RequiredElements:  def.RequiredElements,
		ForbiddenElements: def.ForbiddenElements,
		ExpectedBehavior:  def.ExpectedBehavior,
		Dimensions:        def.Dimensions,
	}, nil
}

// Weights implements scheduler.ScenarioCatalogue.
func (c *Catalogue) Weights(_ context.Context, scenarioID string) (judge.WeightDescriptor, error) {
	def, ok := c.find(scenarioID)
	if !ok {
		return judge.WeightDescriptor{}, fmt.Errorf("unknown scenario %q", scenarioID)
	}
	return judge.WeightDescriptor{
		Weight:                def.Weights,
		BaseDimensions:        def.BaseDimensions,
		RecognitionDimensions: def.RecognitionDimensions,
	}, nil
}

func (c *Catalogue) find(scenarioID string) (ScenarioDef, bool) {
	for _, def := range c.scenarios {
		if def.ScenarioID == scenarioID {
			return def, true
		}
	}
	return ScenarioDef{}, false
}

func hasAnyTag(defTags, wantTags []string) bool {
	for _, want := range wantTags {
		for _, tag := range defTags {
			if tag == want {
				return true
			}
		}
	}
	return false
}

// Profiles returns the scheduler.ProfileCatalogue view of c. A *Catalogue
// implements scheduler.ScenarioCatalogue directly; ScenarioCatalogue and
// ProfileCatalogue both declare a method named Resolve with different
// signatures, so the profile side lives on this wrapper type instead of
// on *Catalogue itself.
func (c *Catalogue) Profiles() Profiles {
	return Profiles{c}
}

// Profiles implements scheduler.ProfileCatalogue against the profiles and
// factorial-cell template loaded into a Catalogue.
type Profiles struct {
	*Catalogue
}

// Resolve implements scheduler.ProfileCatalogue. FactorialCells takes
// precedence over AllProfiles, which takes precedence over an explicit
// Profiles list, matching RunSpec's documented precedence.
func (c Profiles) Resolve(_ context.Context, spec scheduler.RunSpec) ([]dialogue.ProfileConfig, error) {
	if spec.FactorialCells {
		return c.factorialCells(spec), nil
	}

	if spec.AllProfiles {
		out := make([]dialogue.ProfileConfig, 0, len(c.profiles))
		for _, def := range c.profiles {
			out = append(out, c.toProfileConfig(def))
		}
		return out, nil
	}

	out := make([]dialogue.ProfileConfig, 0, len(spec.Profiles))
	for _, name := range spec.Profiles {
		if cell, ok := evalmodel.CellFromName(name); ok {
			out = append(out, c.cellProfile(cell, spec))
			continue
		}
		def, ok := c.findProfile(name)
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", name)
		}
		out = append(out, c.toProfileConfig(def))
	}
	return out, nil
}

func (c *Catalogue) factorialCells(spec scheduler.RunSpec) []dialogue.ProfileConfig {
	out := make([]dialogue.ProfileConfig, 0, 8)
	for n := 1; n <= 8; n++ {
		cell, _ := evalmodel.CellFromName(fmt.Sprintf("cell_%d", n))
		out = append(out, c.cellProfile(cell, spec))
	}
	return out
}

// cellProfile derives a factorial cell's ProfileConfig mechanically:
// Recognition only changes what the scenario/prompt signals elsewhere
// (spec.md treats "recognition" as a scenario-facing framing switch, not
// a dialogue-engine parameter), so the dialogue-relevant bits here are
// TutorMulti and LearnerPsych.
func (c *Catalogue) cellProfile(cell evalmodel.Cell, spec scheduler.RunSpec) dialogue.ProfileConfig {
	profile := dialogue.ProfileConfig{
		ProfileName:       cell.Name(),
		MultiAgentTutor:   cell.TutorMulti,
		PsychSplitLearner: cell.LearnerPsych,
		MaxRevisionRounds: c.template.MaxRevisionRounds,
		Provider:          c.template.Provider,
		EgoModel:          c.template.EgoModel,
		SuperegoModel:     c.template.SuperegoModel,
		LearnerModel:      c.template.LearnerModel,
	}
	applyOverrides(&profile, spec.ModelOverrides)
	return profile
}

func (c *Catalogue) toProfileConfig(def ProfileDef) dialogue.ProfileConfig {
	return dialogue.ProfileConfig{
		ProfileName:       def.ProfileName,
		MultiAgentTutor:   def.MultiAgentTutor,
		PsychSplitLearner: def.PsychSplitLearner,
		MaxRevisionRounds: def.MaxRevisionRounds,
		HardTurnCap:       def.HardTurnCap,
		Provider:          def.Provider,
		EgoModel:          def.EgoModel,
		SuperegoModel:     def.SuperegoModel,
		LearnerModel:      def.LearnerModel,
	}
}

func (c *Catalogue) findProfile(name string) (ProfileDef, bool) {
	for _, def := range c.profiles {
		if def.ProfileName == name {
			return def, true
		}
	}
	return ProfileDef{}, false
}

func applyOverrides(profile *dialogue.ProfileConfig, overrides map[backend.Role]string) {
	if model, ok := overrides[backend.RoleEgo]; ok {
		profile.EgoModel = model
	}
	if model, ok := overrides[backend.RoleSuperego]; ok {
		profile.SuperegoModel = model
	}
	if model, ok := overrides[backend.RoleLearner]; ok {
		profile.LearnerModel = model
	}
}
