package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"legalguardian/internal/domain"
)

// DefaultMaxChunks bounds how many retrieved documents enter the prompt.
const DefaultMaxChunks = 5

const systemPrompt = `Ты - юридический ассистент, отвечающий на вопросы, связанные с российским законодательством.
Твоя задача - предоставлять точную и полезную информацию, основанную на правовых источниках.

Следуй этим правилам при составлении ответов:
1. Основывай свои ответы на предоставленной информации из правовых источников
2. Цитируй конкретные законы, статьи и нормативные акты, когда это возможно
3. Отвечай только на юридические вопросы
4. Указывай источники информации в конце ответа
5. Если информации недостаточно, признай это и предложи, где пользователь может найти дополнительную информацию
6. Не давай юридических советов, которые могут рассматриваться как профессиональная юридическая консультация
7. Используй ясный и понятный язык, избегая излишне сложной юридической терминологии
8. Если задан вопрос не по юридической тематике, вежливо объясни, что ты специализируешься только на юридических вопросах

Ты должен отвечать на русском языке, даже если вопрос задан на другом языке.`

const (
	preambleAck        = "Я готов помочь с юридическими вопросами по российскому законодательству."
	contextHeader      = "Информация из правовых источников:"
	contextInstruction = "Используй следующую информацию из российских правовых источников для ответа на вопрос."
)

// SystemPrompt returns the fixed instruction that opens every prompt.
func SystemPrompt() string { return systemPrompt }

// preamble is sent as a user turn plus an assistant acknowledgement, so the
// preamble always ends on an assistant turn.
func preamble() []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: systemPrompt},
		{Role: domain.RoleAssistant, Content: preambleAck},
	}
}

// limitChunks returns at most maxChunks leading results.
func limitChunks(chunks []domain.RetrievedResult, maxChunks int) []domain.RetrievedResult {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if len(chunks) > maxChunks {
		return chunks[:maxChunks]
	}
	return chunks
}

// RenderContext renders up to maxChunks results as numbered documents.
func RenderContext(chunks []domain.RetrievedResult, maxChunks int) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n\n")
	for i, c := range limitChunks(chunks, maxChunks) {
		fmt.Fprintf(&b, "[Документ %d] %s\n%s\n\n", i+1, c.Reference, c.ChunkText)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildPrompt assembles the messages for one request: the fixed preamble, the
// stored history with consecutive same-role entries dropped, and the final
// user turn carrying the context block and the question. Inputs are not modified.
func BuildPrompt(query string, history []domain.ChatMessage, chunks []domain.RetrievedResult, maxChunks int, logger *slog.Logger) domain.PromptBundle {
	if logger == nil {
		logger = slog.Default()
	}

	messages := make([]domain.ChatMessage, 0, len(history)+3)
	messages = append(messages, preamble()...)

	for _, m := range history {
		if messages[len(messages)-1].Role == m.Role {
			logger.Warn("dropping history message that breaks role alternation", "role", string(m.Role))
			continue
		}
		messages = append(messages, m)
	}

	final := contextInstruction + "\n\n" + RenderContext(chunks, maxChunks) + "\n\nВопрос: " + query

	last := &messages[len(messages)-1]
	if last.Role == domain.RoleUser {
		last.Content += "\n\n" + final
	} else {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: final})
	}
	return domain.PromptBundle{Messages: messages}
}
