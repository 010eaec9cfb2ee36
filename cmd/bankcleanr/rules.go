package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/config"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/rules"
	"github.com/Veraticus/bankcleanr/internal/service"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage matching rules",
		Long: `List and add the server's matching rules. A rule maps a pattern found in a
transaction description to a label.`,
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all matching rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := newRuleCache()
			if err != nil {
				return err
			}
			list, err := cache.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			return renderRules(cmd.OutOrStdout(), list)
		},
	}
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a matching rule",
		Example: `  bankcleanr rules add --label Groceries --pattern 'TESCO|ALDI'
  bankcleanr rules add --label Coffee --pattern cafe --match-type contains --priority 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			label, _ := cmd.Flags().GetString("label")
			pattern, _ := cmd.Flags().GetString("pattern")
			matchType, _ := cmd.Flags().GetString("match-type")
			priority, _ := cmd.Flags().GetInt("priority")

			cache, err := newRuleCache()
			if err != nil {
				return err
			}
			saved, err := cache.Save(cmd.Context(), model.Rule{
				Label:     label,
				Pattern:   pattern,
				MatchType: matchType,
				Priority:  priority,
			})
			if err != nil {
				return fmt.Errorf("failed to save rule: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess( //nolint:errcheck // User-facing output
				fmt.Sprintf("Saved rule %d: %s → %s", saved.RuleID(), saved.Pattern, saved.Label)))
			return nil
		},
	}

	cmd.Flags().String("label", "", "Label to assign (required)")
	cmd.Flags().String("pattern", "", "Pattern to match against descriptions (required)")
	cmd.Flags().String("match-type", "regex", "How the pattern matches (regex, contains, exact)")
	cmd.Flags().Int("priority", 0, "Higher priority rules are tried first")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

func newRuleCache() (*rules.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return rules.NewCache(client, rules.WithRetryOptions(ruleRetryOptions(cfg))), nil
}

func ruleRetryOptions(cfg *config.Config) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  cfg.Rules.RetryAttempts,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}

func renderRules(w io.Writer, list []model.Rule) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, cli.FormatInfo("No rules found. Use 'bankcleanr rules add' to create one."))
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(cli.SubtleStyle).
		Headers("ID", "Label", "Pattern", "Match", "Priority", "Version").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cli.TableHeaderStyle
			}
			return cli.TableCellStyle
		})
	for _, r := range list {
		matchType := r.MatchType
		if matchType == "" {
			matchType = "regex"
		}
		t.Row(
			strconv.FormatInt(r.RuleID(), 10),
			r.Label,
			r.Pattern,
			matchType,
			strconv.Itoa(r.Priority),
			strconv.Itoa(r.Version),
		)
	}

	_, err := fmt.Fprintln(w, cli.FormatTitle("Matching Rules")+"\n\n"+t.String())
	return err
}
