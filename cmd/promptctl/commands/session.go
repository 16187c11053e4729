package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"promptctl/internal/domain"
	"promptctl/internal/session"
)

// startSession authenticates the active key and loads its prompt list.
func startSession(cmd *cobra.Command) (*session.Session, error) {
	s, err := appCtx.Bootstrap.Start(cmd.Context())
	if err != nil {
		return nil, err
	}
	if err := s.Reload(cmd.Context()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// findPrompt resolves a full prompt id or a unique id prefix.
func findPrompt(prompts []domain.Prompt, arg string) (domain.PromptID, error) {
	var match []domain.PromptID
	for _, p := range prompts {
		if string(p.ID) == arg {
			return p.ID, nil
		}
		if arg != "" && strings.HasPrefix(string(p.ID), arg) {
			match = append(match, p.ID)
		}
	}
	switch len(match) {
	case 0:
		return "", fmt.Errorf("%s: %w", arg, domain.ErrPromptNotFound)
	case 1:
		return match[0], nil
	}
	return "", fmt.Errorf("prefix %q matches %d prompts", arg, len(match))
}

func printPrompt(w io.Writer, p domain.Prompt) {
	if p.Answered() {
		fmt.Fprintf(w, "[%s] %s\n    -> %s\n", p.ID, p.Message, *p.Response)
		return
	}
	fmt.Fprintf(w, "[%s] %s\n    (awaiting response)\n", p.ID, p.Message)
}
