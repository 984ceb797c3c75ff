package stages

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
	"github.com/nevilshah235/claimledger-sub000/internal/llmparse"
	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

// DocumentInput is the input to the document extraction stage: one or
// more document artifacts belonging to the same claim.
type DocumentInput struct {
	ClaimID   string
	Artifacts []Artifact
}

// Artifact is one evidence file's bytes plus declared MIME.
type Artifact struct {
	Bytes []byte
	MIME  string
}

// DocumentStage is the per-kind extraction stage for document evidence (C2).
type DocumentStage struct {
	Inference llm.Client
	Model     string
	Log       *logrus.Logger
}

func (s *DocumentStage) Tag() claim.StageTag { return claim.StageDocument }

func (s *DocumentStage) Schema() schema.Schema {
	return schema.Schema{
		Required: []string{"valid"},
		Nested: map[string]schema.Schema{
			"metadata": {
				Required: []string{"confidence"},
				Ranges:   map[string][2]float64{"confidence": {0, 1}},
			},
		},
	}
}

func (s *DocumentStage) Fallback(cause string) StageResultPayload {
	return StageResultPayload{Document: &DocumentStageOutput{
		Common: Common{Confidence: 0, Notes: cause},
		Valid:  false,
	}}
}

// Run extracts structured fields from every artifact and aggregates them
// per spec.md §4.2: union of extracted_fields, averaged confidence, valid
// iff any sub-result is valid.
func (s *DocumentStage) Run(ctx context.Context, rawInput any) (StageResultPayload, error) {
	input, ok := rawInput.(DocumentInput)
	if !ok {
		return StageResultPayload{}, fmt.Errorf("document stage: unexpected input type %T", rawInput)
	}
	if len(input.Artifacts) == 0 {
		return StageResultPayload{}, fmt.Errorf("document stage: no artifacts")
	}

	var results []DocumentStageOutput
	for _, a := range input.Artifacts {
		parts := []llm.PromptPart{
			llm.Text(documentPromptPreamble),
			llm.Attachment(a.MIME, a.Bytes),
		}
		text, err := s.Inference.Analyze(ctx, s.Model, parts)
		if err != nil {
			results = append(results, DocumentStageOutput{
				Common: Common{Confidence: 0, Notes: "inference call failed: " + err.Error()},
				Valid:  false,
			})
			continue
		}
		obj, ok := llmparse.Parse(text, s.Log)
		if !ok {
			results = append(results, DocumentStageOutput{
				Common: Common{Confidence: 0, Notes: "response could not be parsed as JSON"},
				Valid:  false,
			})
			continue
		}
		results = append(results, documentFromMap(obj))
	}

	return StageResultPayload{Document: ptr(aggregateDocuments(results))}, nil
}

const documentPromptPreamble = "Extract structured fields, line items, tables, and a document classification from the attached evidence. Respond as a single JSON object."

func documentFromMap(obj map[string]any) DocumentStageOutput {
	out := DocumentStageOutput{ExtractedFields: map[string]any{}}

	if v, ok := obj["valid"].(bool); ok {
		out.Valid = v
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		if c, ok := asFloat(meta["confidence"]); ok {
			out.Confidence = claim.ClampUnit(c)
		}
		if m, ok := meta["extraction_method"].(string); ok {
			out.ExtractionMethod = m
		}
		if n, ok := meta["notes"].(string); ok {
			out.Notes = n
		}
	}
	if fields, ok := obj["extracted_fields"].(map[string]any); ok {
		out.ExtractedFields = fields
	}
	if dc, ok := obj["document_classification"].(map[string]any); ok {
		out.DocumentClassification = DocumentClassification{
			Category:           stringOr(dc["category"], ""),
			Structure:          stringOr(dc["structure"], ""),
			HasTables:          boolOr(dc["has_tables"], false),
			HasLineItems:       boolOr(dc["has_line_items"], false),
			PrimaryContentType: stringOr(dc["primary_content_type"], ""),
		}
	}
	if items, ok := obj["line_items"].([]any); ok {
		for _, raw := range items {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			qty, _ := asFloat(m["quantity"])
			price, _ := asFloat(m["unit_price"])
			total, _ := asFloat(m["total"])
			out.LineItems = append(out.LineItems, LineItem{
				ItemName:  stringOr(m["item_name"], ""),
				Quantity:  qty,
				UnitPrice: price,
				Total:     total,
			})
		}
	}
	if tables, ok := obj["tables"].([]any); ok {
		for _, raw := range tables {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			out.Tables = append(out.Tables, Table{
				Headers: stringSlice(m["headers"]),
				Summary: stringOr(m["summary"], ""),
			})
		}
	}
	return out
}

// aggregateDocuments implements the multi-artifact aggregation rule from
// spec.md §4.2: union of extracted_fields, averaged confidence, valid iff
// any sub-result valid.
func aggregateDocuments(results []DocumentStageOutput) DocumentStageOutput {
	if len(results) == 1 {
		return results[0]
	}

	agg := DocumentStageOutput{ExtractedFields: map[string]any{}}
	var confSum float64
	for _, r := range results {
		for k, v := range r.ExtractedFields {
			agg.ExtractedFields[k] = v
		}
		agg.LineItems = append(agg.LineItems, r.LineItems...)
		agg.Tables = append(agg.Tables, r.Tables...)
		confSum += r.Confidence
		if r.Valid {
			agg.Valid = true
		}
		if agg.DocumentClassification.Category == "" {
			agg.DocumentClassification = r.DocumentClassification
		}
	}
	agg.Confidence = claim.ClampUnit(confSum / float64(len(results)))
	agg.ExtractionMethod = "aggregated"
	agg.Notes = fmt.Sprintf("aggregated from %d artifacts", len(results))
	return agg
}

func ptr[T any](v T) *T { return &v }

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
