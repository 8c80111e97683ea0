package bothandler

type messageKey int

const (
	msgStart messageKey = iota
	msgHelp
	msgRateLimited
	msgFailed
	msgNoResults
)

var messagesEN = map[messageKey]string{
	msgStart:       "Hi! Send me a place name or coordinates like \"40.7128, -74.0060\" and I'll pin it on the map.",
	msgHelp:        "Send any place name or a \"lat, lon\" coordinate pair.\n\n/loc <query> — resolve a place\n/help — this message",
	msgRateLimited: "Too many requests. Try again in %d seconds.",
	msgFailed:      "Something went wrong while looking that up. Please try again later.",
	msgNoResults:   "I couldn't find that place. Try a different query.",
}

var messagesRU = map[messageKey]string{
	msgStart:       "Привет! Отправь мне название места или координаты вроде \"40.7128, -74.0060\", и я отмечу их на карте.",
	msgHelp:        "Отправь название места или пару координат \"широта, долгота\".\n\n/loc <запрос> — найти место\n/help — это сообщение",
	msgRateLimited: "Слишком много запросов. Попробуй снова через %d сек.",
	msgFailed:      "Не получилось найти это место. Попробуй позже.",
	msgNoResults:   "Я не нашёл такого места. Попробуй другой запрос.",
}

// msg resolves a message for a locale, falling back to English.
func msg(locale string, key messageKey) string {
	if locale == "ru" {
		if s, ok := messagesRU[key]; ok {
			return s
		}
	}
	return messagesEN[key]
}
