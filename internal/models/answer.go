package models

import "time"

type Mode string

const (
	ModeQA      Mode = "qa"
	ModeSummary Mode = "summary"
)

// AnswerConstraints is either a summary constraint (ExactSentences) or a
// QA constraint (MinSentences..MaxSentences), selected by Mode.
type AnswerConstraints struct {
	Mode           Mode
	ExactSentences int
	MinSentences   int
	MaxSentences   int
}

func SummaryConstraints(exact int) AnswerConstraints {
	return AnswerConstraints{Mode: ModeSummary, ExactSentences: exact}
}

func QAConstraints(min, max int) AnswerConstraints {
	return AnswerConstraints{Mode: ModeQA, MinSentences: min, MaxSentences: max}
}

// Message is one chat turn sent to the completion model.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Selection echoes the document a summary was built from.
type Selection struct {
	DocumentID string     `json:"docId"`
	Filename   string     `json:"filename,omitempty"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`
}

type PromptResponse struct {
	Answer         string     `json:"answer"`
	Sources        []Source   `json:"sources"`
	UsedDocumentID string     `json:"usedDocId,omitempty"`
	Selected       *Selection `json:"selected,omitempty"`
}
