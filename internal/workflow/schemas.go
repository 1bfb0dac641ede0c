package workflow

import (
	"strings"

	"google.golang.org/genai"
)

// Structured-output schemas for every LLM-backed stage. Declared with
// genai.Schema and converted to plain JSON Schema maps for providers that
// take the wire format directly.

// cleanerSchema constrains the query cleaner output.
var cleanerSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"cleaned_query": {
			Type:        "STRING",
			Description: "The normalized, self-contained query with pronouns and ellipses resolved from conversation context",
		},
		"used_context": {
			Type:        "BOOLEAN",
			Description: "True when conversation context was needed to resolve the query",
		},
	},
	Required: []string{"cleaned_query", "used_context"},
}

// classifierSchema constrains the intent classifier output.
var classifierSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"classification": {
			Type:        "STRING",
			Description: "Intent of the query",
			Enum:        []string{"FINANCIAL", "CONVERSATIONAL", "NON_FINANCIAL"},
		},
		"reason": {
			Type:        "STRING",
			Description: "One sentence explaining the classification",
		},
	},
	Required: []string{"classification", "reason"},
}

// routerSchema constrains the LLM routing fallback output.
var routerSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"route": {
			Type:        "STRING",
			Description: "RETRIEVAL for definitions and concept explanations answerable from a knowledge corpus; ANALYSIS for anything requiring live market data",
			Enum:        []string{"RETRIEVAL", "ANALYSIS"},
		},
		"reason": {
			Type:        "STRING",
			Description: "One sentence explaining the routing decision",
		},
	},
	Required: []string{"route", "reason"},
}

// analysisPlanSchema constrains entity and aspect extraction for the
// analysis route.
var analysisPlanSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"entities": {
			Type:        "ARRAY",
			Description: "Company names or ticker symbols the query asks about, in the query's own words",
			Items:       &genai.Schema{Type: "STRING"},
		},
		"aspects": {
			Type:        "ARRAY",
			Description: "Which data the query needs per entity",
			Items: &genai.Schema{
				Type: "STRING",
				Enum: []string{"price", "history", "news", "recommendation", "indicator"},
			},
		},
		"comparison": {
			Type:        "BOOLEAN",
			Description: "True when the query compares two or more entities",
		},
	},
	Required: []string{"entities", "aspects", "comparison"},
}

// synthesizerSchema constrains the report synthesizer output.
var synthesizerSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"answer": {
			Type:        "STRING",
			Description: "The final answer in the user's language, citing evidence as [n] where n is the evidence index",
		},
		"needs_chart": {
			Type:        "BOOLEAN",
			Description: "True when a price chart would materially help the answer",
		},
		"save_report": {
			Type:        "BOOLEAN",
			Description: "True when the user asked to save, export, or file the result",
		},
		"report_format": {
			Type:        "STRING",
			Description: "Report file format when save_report is true",
			Enum:        []string{"markdown", "pdf", "text"},
		},
		"report_title": {
			Type:        "STRING",
			Description: "Short title for the report file",
		},
	},
	Required: []string{"answer", "needs_chart", "save_report", "report_format", "report_title"},
}

// evaluatorSchema constrains the quality evaluator output.
var evaluatorSchema = &genai.Schema{
	Type: "OBJECT",
	Properties: map[string]*genai.Schema{
		"relevance": {
			Type:        "INTEGER",
			Description: "1-5: does the answer address the question asked",
		},
		"accuracy": {
			Type:        "INTEGER",
			Description: "1-5: is every claim supported by the provided evidence",
		},
		"completeness": {
			Type:        "INTEGER",
			Description: "1-5: does the answer cover all parts of the question",
		},
		"clarity": {
			Type:        "INTEGER",
			Description: "1-5: is the answer well organized and readable",
		},
		"verdict": {
			Type:        "STRING",
			Description: "pass when the answer is acceptable as-is, fail otherwise",
			Enum:        []string{"pass", "fail"},
		},
		"rewrite_hint": {
			Type:        "STRING",
			Description: "When verdict is fail: a rephrased query that would produce a better answer. Empty otherwise",
		},
	},
	Required: []string{"relevance", "accuracy", "completeness", "clarity", "verdict", "rewrite_hint"},
}

// toJSONSchema converts a genai.Schema into the plain JSON Schema map the
// OpenAI structured-output API expects. Strict mode requires every property
// to be listed in required and additionalProperties to be false.
func toJSONSchema(s *genai.Schema) map[string]interface{} {
	if s == nil {
		return nil
	}

	out := map[string]interface{}{
		"type": strings.ToLower(string(s.Type)),
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = toJSONSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		required := make([]string, 0, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = toJSONSchema(prop)
			required = append(required, name)
		}
		out["properties"] = props
		out["required"] = required
		out["additionalProperties"] = false
	}

	return out
}
