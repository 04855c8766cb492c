package evaluate

import "github.com/vocahire/vocahire/pkg/provider/llm"

// schemaName identifies the structured-output schema sent to the model.
const schemaName = "interview_evaluation"

func unitScore(description string) map[string]any {
	return map[string]any{
		"type":        "number",
		"minimum":     0,
		"maximum":     1,
		"description": description,
	}
}

// responseSchema returns the JSON schema every model answer must follow.
// A fresh map is built per call so providers may annotate it freely.
func responseSchema() *llm.ResponseSchema {
	return &llm.ResponseSchema{
		Name:        schemaName,
		Description: "Qualitative assessment of a job interview answer.",
		Strict:      true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content_relevance": unitScore("How well the answers address the job requirements, 0 to 1."),
				"vocal_confidence":  unitScore("How confident the candidate sounds, 0 to 1."),
				"clarity_of_speech": unitScore("How clear and understandable the answers are, 0 to 1."),
				"fluency":           unitScore("How fluent and well-paced the answers are, 0 to 1."),
				"short_feedback": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Two or three sentences of feedback for the recruiter.",
				},
			},
			"required": []string{
				"content_relevance",
				"vocal_confidence",
				"clarity_of_speech",
				"fluency",
				"short_feedback",
			},
			"additionalProperties": false,
		},
	}
}
