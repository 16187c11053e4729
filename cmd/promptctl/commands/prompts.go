package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func promptsCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List prompts for the active key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			n := 0
			for _, p := range s.Prompts() {
				if pending && p.Answered() {
					continue
				}
				printPrompt(out, p)
				n++
			}
			if n == 0 {
				fmt.Fprintln(out, "No prompts.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only show unanswered prompts")
	return cmd
}

func respondCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "respond <id> <text>...",
		Short: "Answer a prompt",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := findPrompt(s.Prompts(), args[0])
			if err != nil {
				return err
			}
			if err := s.Respond(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Answered %s\n", id)
			return nil
		},
	}
}
