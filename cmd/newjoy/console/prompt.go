package console

import (
	"strings"

	"github.com/chzyer/readline"
)

// Prompt asks question and returns the answer. With choices the first one is
// the default, tab completes among them and an unknown answer falls back to
// the default.
func Prompt(question string, choices ...string) (string, error) {
	conf := &readline.Config{Prompt: question + ": "}
	if len(choices) > 0 {
		items := make([]readline.PrefixCompleterInterface, 0, len(choices))
		for _, c := range choices {
			items = append(items, readline.PcItem(c))
		}
		conf.AutoComplete = readline.NewPrefixCompleter(items...)
		shown := append([]string{strings.ToUpper(choices[0])}, choices[1:]...)
		conf.Prompt = question + " [" + strings.Join(shown, "/") + "]: "
	}
	rl, err := readline.NewEx(conf)
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()
	response, err := rl.Readline()
	if err != nil {
		return "", err
	}
	response = strings.TrimSpace(response)
	if len(choices) == 0 {
		return response, nil
	}
	normalized := strings.ToLower(response)
	for _, c := range choices {
		if normalized == strings.ToLower(c) {
			return c, nil
		}
	}
	return choices[0], nil
}
