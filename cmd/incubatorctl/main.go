// incubatorctl inspects the incubator database: projects, sessions,
// summaries and JSON exports.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/incubator/internal/export"
	"github.com/ashureev/incubator/internal/store"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	dbPath      string
	maxMessages int
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "incubatorctl",
		Short:         "Inspect incubator projects and conversations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)

	dbDefault := os.Getenv("DB_PATH")
	if dbDefault == "" {
		dbDefault = "./data/incubator.db"
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", dbDefault, "path to the SQLite database")
	root.PersistentFlags().IntVar(&opts.maxMessages, "max-messages", 10, "turn cap used to compute remaining turns")

	root.AddCommand(
		newProjectsCmd(opts),
		newSessionsCmd(opts),
		newSummaryCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func openStore(opts *options) (*store.SQLiteStore, error) {
	if _, err := os.Stat(opts.dbPath); err != nil {
		return nil, fmt.Errorf("open database %s: %w", opts.dbPath, err)
	}
	return store.NewSQLite(opts.dbPath)
}

func newProjectsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "projects <user-id>",
		Short: "List a user's projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer repo.Close()

			projects, err := repo.ListProjects(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSCORE\tCREATED\tTITLE")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					p.ID, p.Status, p.VariabilityScore, p.CreatedAt.Format(time.RFC3339), p.Title)
			}
			return tw.Flush()
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <project-id>",
		Short: "List the sessions of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions, err := repo.ListSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tPHASE\tTURNS\tLOCKED\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n",
					s.ID, s.Kind, s.Phase, s.UserTurnCount, s.IsLocked, s.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <project-id>",
		Short: "Print per-session progress of a project as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer repo.Close()

			project, err := repo.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summary, err := export.BuildSummary(cmd.Context(), repo, project, opts.maxMessages)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export a project, its report and every conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer repo.Close()

			project, err := repo.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			exp, err := export.BuildExport(cmd.Context(), repo, project)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return writeJSON(cmd.OutOrStdout(), exp)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := writeJSON(f, exp); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d sessions to %s\n", len(exp.Sessions), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
