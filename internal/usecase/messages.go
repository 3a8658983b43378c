package usecase

import (
	"fmt"
	"strings"
	"time"
)

// Canned replies returned instead of a generated answer.
const (
	MessageNotLegal = "Извините, я могу отвечать только на юридические вопросы, связанные с российским законодательством. " +
		"Пожалуйста, задайте вопрос, касающийся правовых норм, законов или юридических процедур."
	MessageNothingFound = "К сожалению, я не нашел релевантной информации по вашему запросу в моей базе знаний. " +
		"Попробуйте переформулировать вопрос или задать более конкретный запрос."
	MessageLowQuality = "Извините, я не смог сформировать качественный ответ на основе имеющейся у меня информации. " +
		"Попробуйте задать более конкретный вопрос или уточнить, что именно вас интересует."
	MessageProcessingError = "Произошла ошибка при обработке вашего запроса. Пожалуйста, попробуйте позже или задайте другой вопрос."

	FallbackShortAnswer = "К сожалению, не удалось сформировать ответ на основе имеющейся информации. " +
		"Рекомендую обратиться к профессиональному юристу для получения квалифицированной консультации по этому вопросу."
	FallbackGenerationError = "Извините, произошла ошибка при обработке вашего запроса. " +
		"Пожалуйста, попробуйте переформулировать вопрос или задать его позже."

	MessageHistoryCleared = "История разговора очищена. Вы можете начать новую беседу."
)

const HelpMessage = "🔍 LegalGuardian - юридический ассистент\n\n" +
	"Доступные команды:\n" +
	"/start - Начать работу с ботом\n" +
	"/help - Показать эту справку\n" +
	"/clear - Очистить историю разговора\n" +
	"/stats - Статистика бота\n\n" +
	"Как использовать:\n" +
	"• Просто задавайте вопросы, связанные с российским законодательством\n" +
	"• Я буду отвечать, опираясь на актуальные правовые нормы\n" +
	"• Вы можете задавать уточняющие вопросы в рамках диалога\n\n" +
	"Ограничения:\n" +
	"• Я не могу предоставлять индивидуальные юридические консультации\n" +
	"• Мои ответы не заменяют консультацию профессионального юриста\n" +
	"• Я работаю с общими нормами законодательства\n\n" +
	"При сложных юридических вопросах рекомендую обратиться к квалифицированному юристу."

// Greeting renders the /start reply. An empty name falls back to a generic address.
func Greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "пользователь"
	}
	return fmt.Sprintf("Здравствуйте, %s! 👋\n\n", name) +
		"Я - юридический ассистент LegalGuardian. Могу помочь вам найти ответы на вопросы, " +
		"связанные с российским законодательством.\n\n" +
		"Вы можете задавать вопросы о:\n" +
		"• правах и обязанностях граждан\n" +
		"• нормах и положениях законов\n" +
		"• юридических процедурах\n" +
		"• налогообложении\n" +
		"• трудовом, семейном, жилищном, административном праве\n\n" +
		"Для очистки истории разговора используйте команду /clear.\n" +
		"Чтобы получить справку, введите /help.\n\n" +
		"Пожалуйста, задайте ваш вопрос."
}

// FormatStats renders the /stats reply.
func FormatStats(s Stats) string {
	return "📊 Статистика бота\n\n" +
		fmt.Sprintf("Время работы: %s\n", formatUptime(s.Uptime)) +
		fmt.Sprintf("Всего запросов: %d\n", s.TotalQueries) +
		fmt.Sprintf("Юридических запросов: %d (%.1f%%)\n", s.LegalQueries, s.LegalShare()) +
		fmt.Sprintf("Активных пользователей: %d\n", s.ActiveUsers)
}

// formatUptime renders d as "H:MM:SS", prefixed with whole days when present.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	clock := fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	switch {
	case days == 1:
		return "1 день, " + clock
	case days > 1:
		return fmt.Sprintf("%d дн., %s", days, clock)
	}
	return clock
}
