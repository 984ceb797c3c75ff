package stages

func documentToMap(d DocumentStageOutput) map[string]any {
	lineItems := make([]any, 0, len(d.LineItems))
	for _, li := range d.LineItems {
		item := map[string]any{
			"item_name":  li.ItemName,
			"quantity":   li.Quantity,
			"unit_price": li.UnitPrice,
			"total":      li.Total,
		}
		for k, v := range li.Extra {
			item[k] = v
		}
		lineItems = append(lineItems, item)
	}

	tables := make([]any, 0, len(d.Tables))
	for _, t := range d.Tables {
		tables = append(tables, map[string]any{
			"headers": t.Headers,
			"rows":    t.Rows,
			"summary": t.Summary,
		})
	}

	return map[string]any{
		"document_classification": map[string]any{
			"category":             d.DocumentClassification.Category,
			"structure":            d.DocumentClassification.Structure,
			"has_tables":           d.DocumentClassification.HasTables,
			"has_line_items":       d.DocumentClassification.HasLineItems,
			"primary_content_type": d.DocumentClassification.PrimaryContentType,
		},
		"extracted_fields": d.ExtractedFields,
		"line_items":       lineItems,
		"tables":           tables,
		"metadata": map[string]any{
			"confidence":        d.Confidence,
			"extraction_method": d.ExtractionMethod,
			"notes":             d.Notes,
		},
		"valid": d.Valid,
	}
}

func imageToMap(i ImageStageOutput) map[string]any {
	m := map[string]any{
		"damage_type":     i.DamageType,
		"affected_parts":  i.AffectedParts,
		"severity":        string(i.Severity),
		"confidence":      i.Confidence,
		"valid":           i.Valid,
		"notes":           i.Notes,
		"estimated_cost":  nil,
	}
	if i.EstimatedCost != nil {
		m["estimated_cost"] = *i.EstimatedCost
	}
	return m
}

func fraudToMap(f FraudStageOutput) map[string]any {
	return map[string]any{
		"fraud_score": f.FraudScore,
		"risk_level":  string(f.RiskLevel),
		"indicators":  f.Indicators,
		"confidence":  f.Confidence,
		"notes":       f.Notes,
	}
}

func reasoningToMap(r ReasoningStageOutput) map[string]any {
	return map[string]any{
		"final_confidence": r.FinalConfidence,
		"contradictions":   r.Contradictions,
		"fraud_risk":       r.FraudRisk,
		"missing_evidence": r.MissingEvidence,
		"evidence_gaps":    r.EvidenceGaps,
		"reasoning":        r.Reasoning,
		"confidence":       r.Confidence,
		"notes":            r.Notes,
	}
}
