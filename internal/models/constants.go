package models

const (
	DefaultNoInfoText = "No information found in the provided documents."
	ContextSeparator  = "\n\n---\n\n"
	ClipMarker        = "…"
)

var (
	// SummaryKeywords switch a question into summary mode.
	SummaryKeywords = []string{"summarize", "summary", "tldr", "tl;dr", "recap"}

	SystemPromptTemplate = `You are a Q&A assistant for documents.
RULES:
- Always answer in English.
- Answer ONLY using the provided fragments.
- Be concrete (facts, dates, roles, decisions, deadlines).
- Citations must be only [1], [2] etc.
- Do NOT repeat the question.
- If the answer cannot be found: return exactly "%s".
- %s`

	UserPromptTemplate = `Question
%s

Fragments
%s

Return only the answer.`
)
