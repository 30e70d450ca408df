package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"inferd/internal/chat"
)

func runCheckCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	model, release, err := loadModel(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	prompt := chat.Format(chat.History{{Role: chat.RoleUser, Content: "ping"}})
	toks, err := model.Tokenize(prompt.String(), false)
	if err != nil {
		return fmt.Errorf("tokenize: %w", err)
	}
	if len(toks) == 0 {
		return fmt.Errorf("tokenize: prompt produced no tokens")
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: vocab=%d prompt_tokens=%d eos=%d\n", model.VocabSize(), len(toks), model.EOS())
	return err
}
