package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/you/recurse-review/internal/credentials"
	"github.com/you/recurse-review/internal/narrative"
	"github.com/you/recurse-review/internal/pipeline"
	"github.com/you/recurse-review/internal/zulip"
)

func generateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <name>",
		Short: "Fetch check-ins for a recurser and generate their journey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			zcfg := zulip.Config{Realm: cfg.Zulip.Realm, Stream: cfg.Zulip.Stream, NumBefore: cfg.Zulip.NumBefore}
			static := zulip.Credentials{Email: cfg.Zulip.Email, APIKey: cfg.Zulip.APIKey}
			var loader *credentials.FileLoader
			if cfg.Zulip.Zuliprc != "" {
				loader = credentials.NewFileLoader(cfg.Zulip.Zuliprc)
			}
			creds := credentials.NewManager(static, loader, zulip.New(zcfg, nil))
			if loader != nil {
				if _, err := creds.Reload(); err != nil {
					return fmt.Errorf("zuliprc %s: %w", cfg.Zulip.Zuliprc, err)
				}
			}

			model, err := narrative.NewModel(narrative.ModelConfig{
				Provider:         cfg.LLM.Provider,
				Model:            cfg.LLM.Model,
				AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
				AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
				GeminiAPIKey:     cfg.LLM.GeminiAPIKey,
			})
			if err != nil {
				return err
			}

			orch := pipeline.New(zulip.New(zcfg, creds), narrative.NewGenerator(model, cfg.LLM.MaxTokens), st, pipeline.Options{
				Stream: cfg.Zulip.Stream,
			})
			res, err := orch.GenerateJourneyForPerson(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("generate journey (%s): %w", pipeline.Outcome(err), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s journey for %s (id %s, %d messages, trace %s)\n",
				color.New(color.FgHiGreen).Sprint("generated"), res.Name, res.PersonID, res.MessageCount, res.TraceID)
			return nil
		},
	}
}
