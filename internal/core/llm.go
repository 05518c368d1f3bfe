package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/config"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	classifierSystemInstruction = "You are an intent classification system for a workspace assistant that can act on " +
		"the user's mail, calendar and file storage. Analyze the current query in context of the conversation " +
		"history and respond with valid JSON only, no prose and no markdown fences."

	synthesisSystemInstruction = "You are a helpful workspace assistant. Synthesize a natural, conversational response " +
		"from the conversation history and the results of the operations just performed. Mention what succeeded and " +
		"name anything that failed. Use plain text and avoid special Unicode characters. Do not make up information."
)

type LLMService struct {
	client *genai.Client
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client: client,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// ClassifyIntent asks the model for a structured reading of the query and
// returns the raw JSON text.
func (s *LLMService) ClassifyIntent(ctx context.Context, query string, history []store.Message) (string, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(classifierSystemInstruction)},
	}

	temp := float32(0.1)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}

	prompt := fmt.Sprintf(`Analyze this query in context of the conversation history.

CONVERSATION HISTORY:
%s

CURRENT QUERY: %s

Respond with a JSON object containing:
- "services": array drawn from "mail", "calendar", "storage" naming the services needed; empty for greetings, thanks or anything the assistant cannot act on
- "intent": short snake_case description of what the user wants, e.g. "send_email", "search_events", "share_file"; use "greeting", "thanks" or "casual_conversation" for small talk
- "sequential": subset of services whose call needs another service's result first, in execution order; usually empty
- "entities": object of parameters extracted from the query AND history (to, subject, body, summary, start, end, file_name, email, ...)
- "confidence": number between 0 and 1`, formatHistory(history), query)

	return s.generateText(ctx, model, prompt)
}

// Synthesize turns dispatch results into the assistant's reply.
func (s *LLMService) Synthesize(ctx context.Context, query string, results []capability.ActionResult, history []store.Message) (string, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(synthesisSystemInstruction)},
	}

	var resultLines strings.Builder
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(&resultLines, "- %s: success - %s\n", r.Capability, r.Detail)
		} else {
			fmt.Fprintf(&resultLines, "- %s: failed - %s\n", r.Capability, r.Error)
		}
	}

	prompt := fmt.Sprintf(`CONVERSATION HISTORY (for context):
%s

CURRENT QUERY: %s

RESULTS OF THE OPERATIONS JUST PERFORMED:
%s
Write the assistant's reply. If the user referenced something from history, use the details from history. List what was done; if an operation failed, say so plainly and, when authorization expired, suggest reconnecting the account.`,
		formatHistory(history), query, resultLines.String())

	return s.generateText(ctx, model, prompt)
}

func (s *LLMService) generateText(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("gemini response held no text parts")
	}
	return text.String(), nil
}

func formatHistory(history []store.Message) string {
	if len(history) == 0 {
		return "No conversation history available."
	}

	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.CreatedAt.Format("2006-01-02 15:04"), strings.ToUpper(msg.Role), msg.Content)
	}
	return b.String()
}
