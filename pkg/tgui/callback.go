package tgui

import "strings"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

// Data formats inline callback data as "scope:action".
func Data(scope, action string) string {
	return strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
}

// SplitData parses "scope:action" callback data. Telegram clients may prefix
// callback data with a \f byte; it is stripped here.
func SplitData(data string) (scope, action string) {
	data = strings.TrimPrefix(data, "\f")
	scope, action, _ = strings.Cut(data, ":")
	return scope, action
}
