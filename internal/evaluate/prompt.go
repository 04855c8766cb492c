package evaluate

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are an HR evaluation assistant. " +
	"You objectively evaluate interview answers based on job requirements."

const userPromptTemplate = `Job title:
%s

Required qualities:
%s

Candidate answers (transcript):
"""
%s
"""

Evaluate the candidate and return a JSON object with:
- content_relevance (0-1)
- vocal_confidence (0-1)
- clarity_of_speech (0-1)
- fluency (0-1)
- short_feedback (string, not empty)

Return ONLY valid JSON.`

// buildUserPrompt embeds the job profile and transcript. Blank qualities are
// skipped; an empty list renders as "none specified".
func buildUserPrompt(jobTitle string, qualities []string, transcript string) string {
	kept := make([]string, 0, len(qualities))
	for _, q := range qualities {
		if q = strings.TrimSpace(q); q != "" {
			kept = append(kept, q)
		}
	}
	list := "none specified"
	if len(kept) > 0 {
		list = strings.Join(kept, ", ")
	}
	return fmt.Sprintf(userPromptTemplate, strings.TrimSpace(jobTitle), list, transcript)
}
