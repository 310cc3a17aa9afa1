package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dbvault/internal/execution"
)

var executionsLimit int

var executionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"exec"},
	Short:   "Inspect restore execution history",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecutionsList(cmd.Context())
	},
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one execution with its full log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecutionsShow(cmd.Context(), args[0])
	},
}

func init() {
	executionsListCmd.Flags().IntVar(&executionsLimit, "limit", 20, "maximum executions to list")
	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsShowCmd)
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusRunStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func styledStatus(s execution.Status) string {
	switch s {
	case execution.StatusSuccess:
		return statusOKStyle.Render(string(s))
	case execution.StatusFailed:
		return statusFailStyle.Render(string(s))
	default:
		return statusRunStyle.Render(string(s))
	}
}

func runExecutionsList(ctx context.Context) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	execs, err := rt.execs.List(ctx, executionsLimit)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Println("No executions recorded.")
		return nil
	}

	fmt.Printf("%s\n", tableHeaderStyle.Render(
		fmt.Sprintf("%-36s  %-8s  %-18s  %5s  %-14s  %s",
			"ID", "STATUS", "STAGE", "PROG", "STARTED", "ARTIFACT")))
	for _, e := range execs {
		fmt.Printf("%-36s  %-8s  %-18s  %4.0f%%  %-14s  %s\n",
			e.ID,
			styledStatus(e.Status),
			e.Metadata.Stage,
			e.Metadata.Progress,
			humanize.Time(e.CreatedAt),
			e.Path)
	}
	return nil
}

func runExecutionsShow(ctx context.Context, id string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	e, err := rt.execs.Get(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("no execution with id %q", id)
	}

	fmt.Printf("Execution: %s\n", e.ID)
	fmt.Printf("Artifact:  %s\n", e.Path)
	fmt.Printf("Status:    %s\n", styledStatus(e.Status))
	fmt.Printf("Stage:     %s (%.0f%%)\n", e.Metadata.Stage, e.Metadata.Progress)
	fmt.Printf("Started:   %s\n", humanize.Time(e.CreatedAt))
	if e.FinishedAt != nil {
		fmt.Printf("Finished:  %s (took %s)\n",
			humanize.Time(*e.FinishedAt),
			e.FinishedAt.Sub(e.CreatedAt).Round(time.Second))
	}

	fmt.Printf("\n%s\n", tableHeaderStyle.Render("Log"))
	fmt.Println(strings.Repeat("-", 60))
	printExecutionLog(e)
	return nil
}
