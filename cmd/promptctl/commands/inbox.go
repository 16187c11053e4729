package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"promptctl/internal/domain"
	"promptctl/internal/session"
)

// switchVerb starts a stdin line that moves the inbox to another key.
const switchVerb = ":use"

// inbox: watch the active key's prompts and answer them from stdin.
func inboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Watch prompts and answer them with `<id> <response>` lines",
		Long: "Watch prompts for the active key. Answer one with a `<id> <response>` line.\n" +
			"A `:use <hash>` line closes the current session and reopens the inbox for that key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := appCtx.Bootstrap.Start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching prompts for %s. Ctrl-C to quit.\n", s.Key().PublicKeyHash.Short())

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			v := &inboxView{seen: map[domain.PromptID]bool{}}
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-s.Updates():
					if !ok {
						return s.Err()
					}
					v.render(cmd, s)
				case line, ok := <-lines:
					if !ok {
						lines = nil
						continue
					}
					if f := strings.Fields(line); len(f) == 2 && f[0] == switchVerb {
						next, err := switchKey(cmd, s, f[1])
						if err != nil {
							return err
						}
						if next != s {
							s = next
							v = &inboxView{seen: map[domain.PromptID]bool{}}
							fmt.Fprintf(out, "Watching prompts for %s.\n", s.Key().PublicKeyHash.Short())
						}
						continue
					}
					answer(cmd, s, line)
				}
			}
		},
	}
}

// inboxView prints each prompt when it appears and again when it is answered.
type inboxView struct {
	seen    map[domain.PromptID]bool // id -> answered when last printed
	lastErr string
}

func (v *inboxView) render(cmd *cobra.Command, s *session.Session) {
	for _, p := range s.Prompts() {
		answered, ok := v.seen[p.ID]
		if ok && answered == p.Answered() {
			continue
		}
		v.seen[p.ID] = p.Answered()
		printPrompt(cmd.OutOrStdout(), p)
	}

	msg := ""
	if err := s.Err(); err != nil {
		msg = err.Error()
	}
	if msg != "" && msg != v.lastErr {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
	}
	v.lastErr = msg
}

// switchKey moves the inbox to the key named by arg. An unknown key leaves
// the current session running; a failed start after the old session closed
// ends the inbox.
func switchKey(cmd *cobra.Command, cur *session.Session, arg string) (*session.Session, error) {
	rec, err := findKey(cmd.Context(), arg)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return cur, nil
	}
	if rec.PublicKeyHash == cur.Key().PublicKeyHash {
		return cur, nil
	}
	return appCtx.Bootstrap.Switch(cmd.Context(), cur, rec.PublicKeyHash)
}

func answer(cmd *cobra.Command, s *session.Session, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	arg, text, ok := strings.Cut(line, " ")
	if !ok || strings.TrimSpace(text) == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "usage: <id> <response>")
		return
	}
	id, err := findPrompt(s.Prompts(), arg)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return
	}
	if err := s.Respond(cmd.Context(), id, strings.TrimSpace(text)); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
}
