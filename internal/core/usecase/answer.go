package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

const assistantMarker = "<|assistant|>"

const answerTemplate = `You are a %s.
Answer the question based only on the following context, which includes text, tables, and image descriptions:

CONTEXT:
%s

Question: %s

INSTRUCTIONS:
1. Provide a factual answer using ONLY the information in the context above
2. If the context doesn't contain the information needed, state "I don't have enough information" - DO NOT make up an answer
3. Cite the specific part of the context that supports your answer
4. Structure your answer with clear paragraphs and bullet points when appropriate
5. Be concise yet thorough

ANSWER:
`

type AnswerConfig struct {
	// Persona fills the assistant role in the instruction template.
	Persona string
	TopK    int
	// Threshold is passed through as given; zero filters nothing. The
	// config layer owns the default.
	Threshold float64
}

// AnswerUseCase composes retrieved context into a fixed instruction template
// and invokes the chat model.
type AnswerUseCase struct {
	cfg       AnswerConfig
	retriever ports.ContextRetriever
	generator ports.Answerer
	logger    *slog.Logger
}

func NewAnswerUseCase(
	cfg AnswerConfig,
	retriever ports.ContextRetriever,
	generator ports.Answerer,
	logger *slog.Logger,
) *AnswerUseCase {
	if cfg.Persona == "" {
		cfg.Persona = "medical assistant specialized in diabetes"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultRetrieveK
	}
	return &AnswerUseCase{
		cfg:       cfg,
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, question string) (string, error) {
	contexts, err := uc.retriever.Retrieve(ctx, question, uc.cfg.TopK, uc.cfg.Threshold)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	var contextBuilder strings.Builder
	for idx, item := range contexts {
		contextBuilder.WriteString(fmt.Sprintf("[%d] kind=%s source=%s\n%s\n\n",
			idx+1, item.Kind, item.Source, item.Content))
	}

	prompt := fmt.Sprintf(answerTemplate, uc.cfg.Persona, contextBuilder.String(), question)
	response, err := uc.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}

	uc.logger.Info("question_answered", "contexts", len(contexts))
	return extractAssistantTurn(response), nil
}

// extractAssistantTurn strips everything up to a trailing assistant-turn
// marker; some chat templates echo the whole conversation back.
func extractAssistantTurn(response string) string {
	if idx := strings.LastIndex(response, assistantMarker); idx >= 0 {
		return strings.TrimSpace(response[idx+len(assistantMarker):])
	}
	return strings.TrimSpace(response)
}
