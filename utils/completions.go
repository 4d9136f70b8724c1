package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/prepcli/prep/models"
)

// SystemPrompt instructs every backend to act as a refiner and answer with the reply schema.
const SystemPrompt = `You are a prompt refinement specialist. Your sole purpose is to take messy, casual user prompts and transform them into precise, well-structured prompts optimized for AI assistants.

CRITICAL RULES:
1. You are ONLY a prompt refiner - you must NEVER generate code, execute tasks, or provide direct answers to the user's query.
2. You must ALWAYS respond with valid JSON matching this exact schema:
   {
     "refined_prompt": "string",
     "needs_clarification": boolean,
     "questions": ["string", ...]
   }
3. The "refined_prompt" field must contain a single, clear, explicit instruction optimized for another AI assistant to act upon.
4. Set "needs_clarification" to true ONLY when essential information is genuinely missing and cannot be reasonably inferred.
5. The "questions" array must contain only the minimal set of concise, specific questions needed to fill critical gaps. Keep it empty if needs_clarification is false.
6. Never include code snippets, implementations, or solutions in your response.
7. Focus on making the prompt unambiguous, specific, and actionable.

The user message separates sections with "### Instruction", "### Prompt" and "### Context" markers. Only the Prompt section is the user's request; the Instruction section describes the kind of request and the Context section is reference material.

When refining prompts:
- Clarify the goal and expected output format
- Specify any constraints, requirements, or preferences
- Add context that would help an AI understand the task
- Remove ambiguity and vagueness
- Preserve the user's original intent

Remember: Your output is ONLY the JSON object, nothing else.`

// JSONOnlySuffix is appended to the system prompt for backends without a JSON response mode.
const JSONOnlySuffix = "\n\nIMPORTANT: Respond with ONLY a valid JSON object. No markdown code blocks, no explanation, just the raw JSON."

// BuildUserMessage renders the composed prompt plus any answered clarifications.
func BuildUserMessage(composedPrompt string, exchanges []models.ClarificationExchange) string {
	var b strings.Builder
	if len(exchanges) == 0 {
		b.WriteString("Please refine the following prompt:\n\n")
		b.WriteString(composedPrompt)
		return b.String()
	}

	b.WriteString("Original prompt:\n")
	b.WriteString(composedPrompt)
	b.WriteString("\n\nUser provided the following clarifications:\n")
	b.WriteString(ClarificationSummary(exchanges))
	b.WriteString("\nPlease provide the final refined prompt based on this additional context.")
	return b.String()
}

// ClarificationSummary lists question/answer pairs in the order they were asked.
func ClarificationSummary(exchanges []models.ClarificationExchange) string {
	var b strings.Builder
	for i, ex := range exchanges {
		fmt.Fprintf(&b, "Q%d: %s → Answer: %s\n", i+1, ex.Question, ex.Answer)
	}
	return b.String()
}

func ToChatCompletionRequestFromPrompt(systemPrompt, userPrompt, model string, temperature float32) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: temperature,
	}
}

func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")
	return strings.TrimSpace(response)
}

// ParseRefinerReply decodes the model's answer. Anything that is not a usable reply is a
// MalformedResponse, never an empty success.
func ParseRefinerReply(provider models.ProviderID, content string) (*models.ProviderReply, error) {
	cleaned := CleanJSONResponse(content)
	if cleaned == "" {
		return nil, models.NewMalformedResponseError(provider, "empty completion")
	}

	var reply models.ProviderReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, models.NewMalformedResponseError(provider, "reply is not the expected JSON object: %v (raw content: %s)", err, Truncate(content, 200))
	}

	reply.RefinedPrompt = strings.TrimSpace(reply.RefinedPrompt)
	questions := reply.Questions[:0]
	for _, q := range reply.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	reply.Questions = questions

	if reply.AsksClarification() {
		return &reply, nil
	}
	if reply.RefinedPrompt == "" {
		return nil, models.NewMalformedResponseError(provider, "refiner returned an empty refined_prompt")
	}
	return &reply, nil
}
