package main

import (
	"errors"
	"os"

	"promptctl/cmd/promptctl/commands"
	"promptctl/internal/domain"
)

func main() {
	if err := commands.Execute(); err != nil {
		var redirect *domain.RedirectError
		if errors.As(err, &redirect) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
