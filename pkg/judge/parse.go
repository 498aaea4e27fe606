package judge

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

var (
	fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONObject  = regexp.MustCompile(`(?s)\{.*\}`)
)

// rawJudgeResponse mirrors evalmodel.JudgeResponse's shape for decoding;
// kept separate so a malformed dimension entry doesn't half-populate the
// public type.
type rawJudgeResponse struct {
	DimensionScores  []evalmodel.DimensionScore `json:"dimension_scores"`
	RequiredPresent  map[string]bool            `json:"required_present"`
	ForbiddenPresent map[string]bool             `json:"forbidden_present"`
	Summary          string                     `json:"summary"`
}

// parseJudgeResponse tries a fenced ```json``` block first, then the
// first bare {...} object, mirroring parseSuperegoVerdict and ultimately
// the teacher's extractScore fallback shape: judge models are not
// reliably instructed-format compliant either, so a forgiving parse
// followed by a reminder-and-retry (see judge.go) does the rest.
func parseJudgeResponse(text string) (evalmodel.JudgeResponse, error) {
	if raw, candidate, ok := tryParse(fencedJSONBlock, text, true); ok {
		return toResponse(raw, candidate), nil
	}
	if raw, candidate, ok := tryParse(bareJSONObject, text, false); ok {
		return toResponse(raw, candidate), nil
	}
	return evalmodel.JudgeResponse{}, fmt.Errorf("no parseable JSON object found in judge response")
}

func tryParse(re *regexp.Regexp, text string, useSubmatch bool) (rawJudgeResponse, string, bool) {
	var candidate string
	if useSubmatch {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return rawJudgeResponse{}, "", false
		}
		candidate = m[1]
	} else {
		candidate = re.FindString(text)
		if candidate == "" {
			return rawJudgeResponse{}, "", false
		}
	}
	var raw rawJudgeResponse
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return rawJudgeResponse{}, "", false
	}
	if len(raw.DimensionScores) == 0 {
		return rawJudgeResponse{}, "", false
	}
	return raw, candidate, true
}

func toResponse(raw rawJudgeResponse, matchedJSON string) evalmodel.JudgeResponse {
	return evalmodel.JudgeResponse{
		DimensionScores:  raw.DimensionScores,
		RequiredPresent:  raw.RequiredPresent,
		ForbiddenPresent: raw.ForbiddenPresent,
		Summary:          raw.Summary,
		RawPayload:       json.RawMessage(matchedJSON),
	}
}
