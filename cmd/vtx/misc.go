package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vtxstudio/vtx/internal/api"
	"github.com/vtxstudio/vtx/internal/config"
	"github.com/vtxstudio/vtx/internal/pipelines"
)

func newCapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps [pipeline]",
		Short: "Show the flags a pipeline module advertises",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			_, prober, err := a.pipelineDeps()
			if err != nil {
				return err
			}
			keys := pipelines.KnownPipelines()
			if len(args) == 1 {
				keys = args
			}
			for _, key := range keys {
				module, ok := pipelines.ModuleFor(key)
				if !ok {
					return fmt.Errorf("unknown pipeline %q (known: %s)", key, strings.Join(pipelines.KnownPipelines(), ", "))
				}
				caps, err := prober.Probe(cmd.Context(), module)
				if err != nil {
					fmt.Printf("%s (%s): probe failed: %v\n", key, module, err)
					continue
				}
				fmt.Printf("%s (%s): %d flags\n", key, module, len(caps.Flags))
				for _, f := range caps.List() {
					fmt.Printf("  %s\n", f)
				}
			}
			return nil
		}),
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect effective settings",
	}

	var slug string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print effective settings, optionally with a project's layer",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			settings := a.settings
			if slug != "" {
				p, err := a.projects.Load(slug)
				if err != nil {
					return err
				}
				if settings, err = a.loader.ForProject(p.EnvPath()); err != nil {
					return err
				}
			}
			printSettings(settings)
			return nil
		}),
	}
	show.Flags().StringVarP(&slug, "project", "p", "", "include this project's project.env")

	cmd.AddCommand(show)
	return cmd
}

func printSettings(s *config.Settings) {
	vals := s.Redacted()
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, vals[k])
	}
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API on localhost",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			listenPort, err := servePort(port, cmd.Flags().Changed("port"), a.settings.Port())
			if err != nil {
				return err
			}
			cfg := api.ServerConfig{
				Port:       listenPort,
				Repository: a.repo,
				Logger:     a.logger,
				StartTime:  time.Now(),
				Version:    Version,
			}
			if _, prober, err := a.pipelineDeps(); err == nil {
				cfg.Prober = prober
			} else {
				a.logger.Warn("pipeline runner unavailable, capabilities will be empty", "error", err)
			}
			server := api.NewServer(cfg)
			if err := server.Listen(); err != nil {
				return err
			}
			fmt.Printf("status API listening on http://%s\n", server.Addr())
			return server.Serve(cmd.Context())
		}),
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port; 0 picks a free port (default VTX_PORT)")
	return cmd
}

// servePort picks the listen port: an explicit --port wins, including 0
// for a free port; otherwise the configured VTX_PORT.
func servePort(flag int, explicit bool, configured int) (int, error) {
	if !explicit {
		return configured, nil
	}
	if flag < 0 || flag > 65535 {
		return 0, fmt.Errorf("invalid --port %d", flag)
	}
	return flag, nil
}
