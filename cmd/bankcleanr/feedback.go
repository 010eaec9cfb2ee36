package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/feedback"
	"github.com/spf13/cobra"
)

func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <rule-id> [suggestion]",
		Short: "Suggest a correction for a matching rule",
		Long: `Send a suggested correction for a rule. When the suggestion is omitted it is
read from the terminal.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runFeedback,
	}
}

func runFeedback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ruleID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || ruleID <= 0 {
		return common.NewValidationError("rule id", args[0], errors.New("must be a positive integer"))
	}

	var suggestion string
	if len(args) == 2 {
		suggestion = args[1]
	} else {
		reader := cli.NewLineReader(cmd.InOrStdin(), os.Stderr)
		suggestion, err = reader.Prompt(ctx, fmt.Sprintf("Suggestion for rule %d", ruleID))
		if err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	sub := feedback.NewSubmitter(client)
	sub.SetDraft(ruleID, suggestion)
	if err := sub.Submit(ctx, ruleID, suggestion); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Feedback sent for rule %d", ruleID)))
	return err
}
