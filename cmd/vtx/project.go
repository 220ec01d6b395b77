package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, list and sync projects",
	}

	var title string
	newCmd := &cobra.Command{
		Use:   "new <slug>",
		Short: "Create a project skeleton and register it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, meta, err := a.projects.Create(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			fmt.Printf("created %s (%s) at %s\n", meta.Slug, meta.ProjectID, p.Root)
			return nil
		}),
	}
	newCmd.Flags().StringVar(&title, "title", "", "project title (defaults to the slug)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			projects, err := a.repo.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("no projects registered; run `vtx project sync`")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tTITLE\tUPDATED\tPATH")
			for _, p := range projects {
				updated := "-"
				if !p.UpdatedAt.IsZero() {
					updated = humanize.Time(p.UpdatedAt)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Slug, p.Title, updated, p.Path)
			}
			return tw.Flush()
		}),
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Register every project and clip spec found on disk",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			n, err := a.projects.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("synced %d project(s) from %s\n", n, a.projects.Root())
			return nil
		}),
	}

	cmd.AddCommand(newCmd, listCmd, syncCmd)
	return cmd
}
