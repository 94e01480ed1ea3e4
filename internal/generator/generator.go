// Package generator turns a question and retrieved context into a grounded
// answer using the configured chat model.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/rag"
)

// promptTemplate frames the model as a document QA assistant. The context
// block is the only knowledge source the model is asked to use.
const promptTemplate = `Use the following context to answer the question. If you don't know the answer from the context, say "I don't have enough information".

Context: %s

Question: %s

Answer:`

// NoContextAnswer is returned without calling the model when retrieval
// produced nothing usable.
const NoContextAnswer = "I couldn't find any relevant information in the uploaded documents to answer your question."

// Generator produces answers grounded in retrieved document context.
type Generator struct {
	// chatModel is the LLM backend constructed by the provider factory.
	chatModel model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately

	// system is an optional system message prepended to every request.
	system string
}

// New constructs a Generator over the given chat model. system may be empty.
func New(chatModel model.ChatModel, system string) (*Generator, error) { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	if chatModel == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	return &Generator{chatModel: chatModel, system: system}, nil
}

// Generate answers question using contextText as the only knowledge source.
// An empty context short-circuits to NoContextAnswer without touching the
// model, so irrelevant questions never produce hallucinated answers.
func (g *Generator) Generate(ctx context.Context, question, contextText string) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		return NoContextAnswer, nil
	}

	var messages []*schema.Message
	if g.system != "" {
		messages = append(messages, schema.SystemMessage(g.system))
	}
	messages = append(messages, schema.UserMessage(fmt.Sprintf(promptTemplate, contextText, question)))

	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generator: %w: %w", rag.ErrBackendUnavailable, err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("generator: %w: model returned an empty response", rag.ErrBackendUnavailable)
	}

	return resp.Content, nil
}
