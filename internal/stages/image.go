package stages

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
	"github.com/nevilshah235/claimledger-sub000/internal/llmparse"
	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

// ImageInput is the input to the image extraction stage.
type ImageInput struct {
	ClaimID   string
	Artifacts []Artifact
}

// ImageStage is the per-kind extraction stage for image evidence (C2).
type ImageStage struct {
	Inference llm.Client
	Model     string
	Log       *logrus.Logger
}

func (s *ImageStage) Tag() claim.StageTag { return claim.StageImage }

func (s *ImageStage) Schema() schema.Schema {
	return schema.Schema{
		Required: []string{"valid", "confidence"},
		Enums:    map[string][]string{"severity": {"minor", "moderate", "severe", "total"}},
		Ranges:   map[string][2]float64{"confidence": {0, 1}},
	}
}

func (s *ImageStage) Fallback(cause string) StageResultPayload {
	return StageResultPayload{Image: &ImageStageOutput{
		Common: Common{Confidence: 0, Notes: cause},
		Valid:  false,
	}}
}

const imagePromptPreamble = "Assess visible damage from the attached photo: damage type, affected parts, severity (minor/moderate/severe/total), and an estimated repair cost if determinable. Respond as a single JSON object."

// Run extracts damage assessment from every artifact and aggregates per
// spec.md §4.2: modal damage_type, union of affected_parts, maximum
// severity, mean estimated_cost of non-null values, mean confidence.
func (s *ImageStage) Run(ctx context.Context, rawInput any) (StageResultPayload, error) {
	input, ok := rawInput.(ImageInput)
	if !ok {
		return StageResultPayload{}, fmt.Errorf("image stage: unexpected input type %T", rawInput)
	}
	if len(input.Artifacts) == 0 {
		return StageResultPayload{}, fmt.Errorf("image stage: no artifacts")
	}

	var results []ImageStageOutput
	for _, a := range input.Artifacts {
		parts := []llm.PromptPart{llm.Text(imagePromptPreamble), llm.Attachment(a.MIME, a.Bytes)}
		text, err := s.Inference.Analyze(ctx, s.Model, parts)
		if err != nil {
			results = append(results, ImageStageOutput{Common: Common{Notes: "inference call failed: " + err.Error()}})
			continue
		}
		obj, ok := llmparse.Parse(text, s.Log)
		if !ok {
			results = append(results, ImageStageOutput{Common: Common{Notes: "response could not be parsed as JSON"}})
			continue
		}
		results = append(results, imageFromMap(obj))
	}

	return StageResultPayload{Image: ptr(aggregateImages(results))}, nil
}

func imageFromMap(obj map[string]any) ImageStageOutput {
	out := ImageStageOutput{}
	if v, ok := obj["valid"].(bool); ok {
		out.Valid = v
	}
	if c, ok := asFloat(obj["confidence"]); ok {
		out.Confidence = claim.ClampUnit(c)
	}
	if n, ok := obj["notes"].(string); ok {
		out.Notes = n
	}
	out.DamageType = stringOr(obj["damage_type"], "")
	out.AffectedParts = stringSlice(obj["affected_parts"])
	if sev, ok := obj["severity"].(string); ok {
		out.Severity = Severity(sev)
	}
	if cost, ok := asFloat(obj["estimated_cost"]); ok {
		out.EstimatedCost = ptr(cost)
	}
	return out
}

func aggregateImages(results []ImageStageOutput) ImageStageOutput {
	if len(results) == 1 {
		return results[0]
	}

	agg := ImageStageOutput{}
	counts := map[string]int{}
	partsSeen := map[string]bool{}
	var confSum, costSum float64
	var costN int

	for _, r := range results {
		counts[r.DamageType]++
		for _, p := range r.AffectedParts {
			if !partsSeen[p] {
				partsSeen[p] = true
				agg.AffectedParts = append(agg.AffectedParts, p)
			}
		}
		if agg.Severity == "" {
			agg.Severity = r.Severity
		} else {
			agg.Severity = MaxSeverity(agg.Severity, r.Severity)
		}
		confSum += r.Confidence
		if r.EstimatedCost != nil {
			costSum += *r.EstimatedCost
			costN++
		}
		if r.Valid {
			agg.Valid = true
		}
	}

	agg.DamageType = modalKey(counts)
	agg.Confidence = claim.ClampUnit(confSum / float64(len(results)))
	if costN > 0 {
		agg.EstimatedCost = ptr(costSum / float64(costN))
	}
	agg.Notes = fmt.Sprintf("aggregated from %d artifacts", len(results))
	return agg
}

func modalKey(counts map[string]int) string {
	type kv struct {
		k string
		v int
	}
	kvs := make([]kv, 0, len(counts))
	for k, v := range counts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].v != kvs[j].v {
			return kvs[i].v > kvs[j].v
		}
		return kvs[i].k < kvs[j].k
	})
	if len(kvs) == 0 {
		return ""
	}
	return kvs[0].k
}
