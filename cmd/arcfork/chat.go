package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jordanhubbard/arcfork/internal/agent"
	"github.com/jordanhubbard/arcfork/internal/persona"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the persona from the terminal without publishing",
		Long: `Interactive mode. Enter 1 to draft a post, 2 to branch the persona,
or any other text to have the persona reply to it. Nothing is published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			store := persona.NewStore(cfg.Persona.Dir, cfg.Persona.BranchEvery)
			p, err := loadPersona(store, cfg.Persona.Name, useLatest, logger)
			if err != nil {
				return fmt.Errorf("failed to load persona: %w", err)
			}
			ag, err := newAgent(cfg, newRand(cfg.Schedule.Seed))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			chat := agent.NewChat(p, store, ag, logger)
			if term.IsTerminal(int(os.Stdin.Fd())) {
				chat.Prompt = "> "
			}
			return chat.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addPersonaFlags(cmd)
	return cmd
}
