package dialogue

import (
	"encoding/json"
	"regexp"
)

// superegoVerdict is the superego's structured judgement of an ego draft.
type superegoVerdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var bareJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseSuperegoVerdict tries a fenced ```json``` block first, then the
// first bare {...} object in the text, mirroring the teacher's
// extractScore fallback-parsing shape (pkg/agent/controller/scoring.go)
// generalized from "a number on the last line" to "a JSON object anywhere
// in the response" — superego models are not reliably instructed-format
// compliant either.
func parseSuperegoVerdict(text string) (superegoVerdict, bool) {
	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		var v superegoVerdict
		if json.Unmarshal([]byte(m[1]), &v) == nil {
			return v, true
		}
	}
	if m := bareJSONObject.FindString(text); m != "" {
		var v superegoVerdict
		if json.Unmarshal([]byte(m), &v) == nil {
			return v, true
		}
	}
	return superegoVerdict{}, false
}
