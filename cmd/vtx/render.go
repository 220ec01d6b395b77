package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vtxstudio/vtx/internal/assemble"
	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/render"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render, approve, resume and assemble clips",
	}
	cmd.AddCommand(
		newRenderClipCmd(),
		newApproveCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newAssembleCmd(),
		newMarkCmd(),
	)
	return cmd
}

func newRenderClipCmd() *cobra.Command {
	var (
		opts   render.Options
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "clip <slug> <clip_id>",
		Short: "Render one clip",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctrl, err := a.controller(args[0], true)
			if err != nil {
				return err
			}

			if dryRun {
				spec, _, err := ctrl.LoadSpec(args[1])
				if err != nil {
					return err
				}
				plan, err := ctrl.Plan(cmd.Context(), spec, opts)
				if err != nil {
					return err
				}
				return printJSON(plan)
			}

			res, err := ctrl.RenderClip(cmd.Context(), args[1], opts)
			if err != nil {
				return err
			}
			if res.Err != nil {
				fmt.Printf("%s %s: %v\n", res.ClipID, res.State, res.Err)
				return nil
			}
			fmt.Printf("%s %s -> %s (%s)\n", res.ClipID, res.State, res.OutputPath, res.Run.Duration.Round(time.Second))
			return nil
		}),
	}
	cmd.Flags().StringVar(&opts.Preset, "preset", "", "quality tier (low, medium, high, ultra) or pass (draft, final)")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "write the output into this directory instead of its declared location")
	cmd.Flags().Float64Var(&opts.ResolutionScale, "scale", 1.0, "multiply the resolved width and height")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved plan without running the backend")
	return cmd
}

func newApproveCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "approve <slug> <clip_id>",
		Short: "Approve a clip and choose its final render strategy",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctrl, err := a.controller(args[0], false)
			if err != nil {
				return err
			}
			approval, err := ctrl.Approve(args[1], strategy)
			if err != nil {
				return err
			}
			if approval.Strategy == clipspec.StrategyV2V && !approval.DraftExists {
				fmt.Println("warning: v2v chosen but no draft render exists yet")
			}
			fmt.Printf("approved %s for %s\n", approval.ClipID, approval.Strategy)
			return nil
		}),
	}
	cmd.Flags().StringVar(&strategy, "strategy", clipspec.StrategyT2V, "final strategy: t2v or v2v")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var maxJobs int
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Render unfinished clips across all projects, oldest first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if _, err := a.projects.SyncAll(cmd.Context()); err != nil {
				return err
			}
			svc, err := a.renderService(true)
			if err != nil {
				return err
			}
			report, err := svc.Resume(cmd.Context(), maxJobs)
			if report != nil {
				for _, res := range report.Results {
					if res.Err != nil {
						fmt.Printf("%s/%s failed: %v\n", res.ProjectID, res.ClipID, res.Err)
					} else {
						fmt.Printf("%s/%s %s\n", res.ProjectID, res.ClipID, res.State)
					}
				}
				fmt.Printf("attempted %d, failed %d, skipped %d\n",
					len(report.Results), report.Failed(), report.Skipped)
			}
			return err
		}),
	}
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 1, "maximum number of clips to attempt")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <slug>",
		Short: "Show render status of every clip in a project",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctrl, err := a.controller(args[0], false)
			if err != nil {
				return err
			}
			rows, err := ctrl.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIP\tSTATUS\tSTATE\tSIZE\tOUTPUT")
			done := 0
			for _, r := range rows {
				size := "-"
				if r.Status == render.StatusDone {
					done++
					size = humanize.Bytes(uint64(r.SizeBytes))
				}
				status := r.Status
				if r.Error != "" {
					status += ": " + r.Error
				}
				state := r.State
				if state == "" {
					state = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ClipID, status, state, size, r.Output)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d/%d rendered\n", done, len(rows))
			return nil
		}),
	}
}

func newAssembleCmd() *cobra.Command {
	var opts assemble.Options
	cmd := &cobra.Command{
		Use:   "assemble <slug>",
		Short: "Concatenate rendered clips in shot list order",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := a.projects.Load(args[0])
			if err != nil {
				return err
			}
			asm := assemble.New(*p, assemble.NewFFmpegConcat(a.logger), a.logger)
			report, err := asm.Assemble(cmd.Context(), opts)
			if report != nil {
				for _, m := range report.Missing {
					fmt.Printf("skipped %s (%s)\n", m.ClipID, m.Reason)
				}
			}
			if errors.Is(err, assemble.ErrNoClips) {
				fmt.Println("no clips found to assemble")
				return nil
			}
			if err != nil {
				return err
			}
			size := ""
			if info, statErr := os.Stat(report.Output); statErr == nil {
				size = " (" + humanize.Bytes(uint64(info.Size())) + ")"
			}
			fmt.Printf("assembled %d clips (%.1fs) to %s%s\n", len(report.Clips), report.Seconds(), report.Output, size)
			if report.EDLPath != "" {
				fmt.Printf("edit list written to %s\n", report.EDLPath)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&opts.OutputName, "output", assemble.DefaultOutputName, "output file name under renders/")
	cmd.Flags().StringVar(&opts.ClipsDir, "clips-dir", "", "prefer clip files with the same name from this directory")
	cmd.Flags().BoolVar(&opts.EDL, "edl", false, "also write a CMX3600 edit list next to the output")
	return cmd
}

func newMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <slug> <clip_id> <planned|queued|rejected>",
		Short: "Set a clip's registry state by hand",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctrl, err := a.controller(args[0], false)
			if err != nil {
				return err
			}
			if err := ctrl.Mark(cmd.Context(), args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("%s marked %s\n", args[1], args[2])
			return nil
		}),
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
