package dialog

import (
	"fmt"

	"tasksbot/internal/store"
)

const (
	textGreetingNew = "Привет. Начни с того что сразу введи дело."
	textMenuTitle   = "Выбери действие:"
	textAskTask     = "Вводи новое дело"
	textAskPeriod   = "Теперь введи периодичность в днях (просто целое число!)"
	textBadTime     = `Что-то не очень похоже на время. что то типа "12:22" я бы понял.`
	textBadPeriod   = `Что-то не очень похоже на число. что то типа "5" я бы понял, но не это.`
	textDeleted     = "Задача удалена"
	textUnexpected  = "не ожидал что ты что-то мне тут напишешь без предупреждения (без запроса). Или я что-то не понял."

	labelNewTask   = "📝 Добавить дело"
	labelSetupTime = "⚙️ Время уведомлений"
	labelEditTime  = "🔧⏰"
	labelDelete    = "🗑"
)

// greetingByState tells a returning user what the bot currently expects.
var greetingByState = map[store.ChatState]string{
	store.StateAwaitTask:       textAskTask,
	store.StateAwaitPeriod:     "Вводи период",
	store.StateAwaitNotifyTime: "Введи время когда присылать уведомление (ЧЧ:ММ)",
}

func textGreetingBack(state store.ChatState) string {
	if hint, ok := greetingByState[state]; ok {
		return "Рад видеть тебя снова. " + hint
	}
	return "Рад видеть тебя снова."
}

func textTimeSet(hour, minute int) string {
	return fmt.Sprintf("Установлено время уведомления - %02d:%02d", hour, minute)
}

func textSetupTime(hour, minute int) string {
	return fmt.Sprintf("Сейчас время уведомлений %02d:%02d.\nВведи новое время уведомлений в формате Ч:М", hour, minute)
}

func textPeriodSet(days int) string {
	return fmt.Sprintf("Установлен период %d %s.", days, pluralDays(days))
}

func textAskPeriodFor(content string) string {
	return fmt.Sprintf("Теперь введи периодичность в днях (просто целое число!) для задачи %q", content)
}

func textNoTask(id int64) string {
	return fmt.Sprintf("Странно, но такой задачи у меня нет (ИД=%d)", id)
}

func textMarkedDone(content string, days int) string {
	return fmt.Sprintf("Задача %q отмечена как выполнена. Следующий раз напомню через %d %s", content, days, pluralDays(days))
}

// plural picks the Russian plural form for a number.
func plural(n int, one, two, many string) string {
	if n > 5 && n < 20 {
		return many
	}
	switch m := n % 10; {
	case m == 1:
		return one
	case m > 1 && m < 5:
		return two
	default:
		return many
	}
}

func pluralDays(n int) string {
	return plural(n, "день", "дня", "дней")
}
