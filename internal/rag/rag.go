package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/retriever"
)

type Retriever interface {
	Retrieve(ctx context.Context, q retriever.Query) (*retriever.Result, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, fragments []models.ContextFragment, c models.AnswerConstraints) (string, error)
}

// RAG answers questions over the ingested documents.
type RAG struct {
	retriever Retriever
	answerer  Answerer
	noInfo    string
}

func NewRAG(r Retriever, a Answerer, noInfo string) *RAG {
	return &RAG{retriever: r, answerer: a, noInfo: noInfo}
}

// Query retrieves context for question and asks the model. Finding nothing
// is not an error: the answer is the no-info text with no sources.
func (r *RAG) Query(ctx context.Context, question, docID, filename string) (*models.PromptResponse, error) {
	question = retriever.CleanText(question)
	if question == "" {
		return nil, fmt.Errorf("%w: missing question", models.ErrInvalidInput)
	}

	start := time.Now()
	log.Debug().Str("question", question).Str("docId", docID).Str("filename", filename).Msg("Answer started")

	res, err := r.retriever.Retrieve(ctx, retriever.Query{
		Question:   question,
		DocumentID: docID,
		Filename:   filename,
	})
	if err != nil {
		return nil, err
	}

	response := &models.PromptResponse{
		Sources:        []models.Source{},
		UsedDocumentID: res.UsedDocumentID,
		Selected:       res.Selected,
	}
	if len(res.Fragments) == 0 {
		log.Info().Str("mode", string(res.Constraints.Mode)).Msg("Answer empty")
		response.Answer = r.noInfo
		return response, nil
	}

	answer, err := r.answerer.Answer(ctx, question, res.Fragments, res.Constraints)
	if err != nil {
		return nil, err
	}
	response.Answer = answer
	for _, f := range res.Fragments {
		response.Sources = append(response.Sources, models.SourceOf(f))
	}

	log.Info().
		Str("mode", string(res.Constraints.Mode)).
		Int("sources", len(response.Sources)).
		Dur("took", time.Since(start)).
		Msg("Answer done")
	return response, nil
}
