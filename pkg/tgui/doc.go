// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (scope:action)
//   - HTML escaping for ParseMode="HTML"
package tgui
