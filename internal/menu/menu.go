// Package menu maps free-form chat text to a menu action. It keeps no
// conversation state: each message is interpreted on its own.
package menu

import "strings"

// Action identifies what the bot should reply with.
type Action int

// Action constants enumerate the router outcomes.
const (
	// Unhandled means the text matched no command.
	Unhandled Action = iota
	ShowAudioPrompt
	ShowDocPrompt
	ShowServices
	ShowAbout
	ShowMainMenu
	// ShowAccount replies with the plan and quota balance.
	ShowAccount
)

var actionNames = map[Action]string{
	Unhandled:       "unhandled",
	ShowAudioPrompt: "audio_prompt",
	ShowDocPrompt:   "doc_prompt",
	ShowServices:    "services",
	ShowAbout:       "about",
	ShowMainMenu:    "main_menu",
	ShowAccount:     "account",
}

// String implements fmt.Stringer.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return actionNames[Unhandled]
}

var commands = map[string]Action{
	"1":       ShowAudioPrompt,
	"2":       ShowDocPrompt,
	"3":       ShowServices,
	"4":       ShowAbout,
	"menu":    ShowMainMenu,
	"start":   ShowMainMenu,
	"מעע":     ShowMainMenu,
	"מעעע":    ShowMainMenu,
	"balance": ShowAccount,
	"סיכום":   ShowAccount,
}

// Normalize trims and case-folds text.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Resolve returns the action for text, or Unhandled.
func Resolve(text string) Action {
	if action, ok := commands[Normalize(text)]; ok {
		return action
	}
	return Unhandled
}
