package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforce/internal/model"
)

func workerCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the AI workers",
	}
	cmd.AddCommand(
		workerAddCmd(e),
		workerListCmd(e),
		workerActiveCmd(e, "activate", true),
		workerActiveCmd(e, "deactivate", false),
	)
	return cmd
}

func workerAddCmd(e *env) *cobra.Command {
	var (
		id       string
		role     string
		provider string
		llm      string
		prompt   string
		tools    []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := model.ParseRole(role)
			if r == model.RoleOther && !strings.EqualFold(role, string(model.RoleOther)) {
				return fmt.Errorf("unknown role %q", role)
			}
			if _, ok := e.cfg.Providers[provider]; !ok {
				return fmt.Errorf("unknown provider %q", provider)
			}

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			w := &model.Worker{
				ID:     id,
				Name:   args[0],
				Role:   r,
				Active: true,
				Config: model.WorkerConfig{Provider: provider, Model: llm, SystemPrompt: prompt, Tools: tools},
			}
			if err := store.SaveWorker(ctx, w); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), w.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Worker ID (default: generated)")
	cmd.Flags().StringVarP(&role, "role", "r", "", "Role: architect, tech_lead, frontend_dev, backend_dev, qa or other")
	cmd.Flags().StringVar(&provider, "provider", "claude", "Provider from the config")
	cmd.Flags().StringVar(&llm, "model", "", "Model override")
	cmd.Flags().StringVar(&prompt, "system-prompt", "", "Role-specific system prompt")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "Allowed tools")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func workerListCmd(e *env) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			workers, err := store.ListWorkers(ctx, !all)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROLE\tPROVIDER\tACTIVE")
			for _, w := range workers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", w.ID, w.Name, w.Role, w.Config.Provider, w.Active)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include inactive workers")
	return cmd
}

func workerActiveCmd(e *env, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <worker-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			w, err := store.GetWorker(ctx, args[0])
			if err != nil {
				return err
			}
			w.Active = active
			if err := store.SaveWorker(ctx, w); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", w.ID, w.Active)
			return nil
		},
	}
}
