package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vtxstudio/vtx/internal/config"
	"github.com/vtxstudio/vtx/internal/db"
	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/pipelines"
	"github.com/vtxstudio/vtx/internal/project"
	"github.com/vtxstudio/vtx/internal/registry"
	"github.com/vtxstudio/vtx/internal/render"
)

var Version = "0.1.0"

var (
	flagLogLevel string
	flagAppRoot  string
	flagPython   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vtx",
		Short:         "vtx - clip rendering pipeline for short films",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flagAppRoot, "app-root", "", "directory holding config/global.env and config/models.env")
	root.PersistentFlags().StringVar(&flagPython, "python", "", "python interpreter used to run pipelines")

	root.AddCommand(newProjectCmd())
	root.AddCommand(newRenderCmd())
	root.AddCommand(newCapsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newServeCmd())
	return root
}

// app holds the process-wide collaborators built from the global settings.
type app struct {
	loader   *config.Loader
	settings *config.Settings
	logger   *slog.Logger
	db       *db.DB
	repo     *registry.SQLiteRepository
	projects *project.Loader

	runner pipelines.Runner
	prober *pipelines.CachedProber
}

func newApp() (*app, error) {
	loader, err := config.NewLoader(config.Options{
		AppRoot:  flagAppRoot,
		LogLevel: flagLogLevel,
		Python:   flagPython,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	settings, err := loader.Global()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(settings.LogLevel(), settings.LogFormat())

	database, err := db.New(settings.RegistryPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	repo := registry.NewRepository(database.Conn())

	return &app{
		loader:   loader,
		settings: settings,
		logger:   logger,
		db:       database,
		repo:     repo,
		projects: project.NewLoader(settings.ProjectsRoot(), repo, logger),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// pipelineDeps resolves the python interpreter on first use so commands that
// never touch a backend work without one.
func (a *app) pipelineDeps() (pipelines.Runner, *pipelines.CachedProber, error) {
	if a.runner != nil {
		return a.runner, a.prober, nil
	}
	r, err := pipelines.NewRunner(pipelines.Config{
		PythonPath:    a.settings.Python(),
		ProbeTimeout:  a.settings.ProbeTimeout(),
		RenderTimeout: a.settings.RenderTimeout(),
		Logger:        a.logger,
		DebugPaths:    a.settings.LogLevel() == "debug",
	})
	if err != nil {
		return nil, nil, err
	}
	a.runner = r
	a.prober = pipelines.NewCachedProber(pipelines.NewHelpProber(r), a.logger)
	return a.runner, a.prober, nil
}

// renderService builds the render service. Without backend the runner and
// prober are left unset, which is enough for approve, status and mark.
func (a *app) renderService(backend bool) (*render.Service, error) {
	deps := render.Deps{Repo: a.repo, Logger: a.logger}
	if backend {
		runner, prober, err := a.pipelineDeps()
		if err != nil {
			return nil, err
		}
		deps.Runner = runner
		deps.Prober = prober
	}
	return render.NewService(a.loader, deps), nil
}

// controller opens the project by slug and builds its render controller.
func (a *app) controller(slug string, backend bool) (*render.Controller, error) {
	p, err := a.projects.Load(slug)
	if err != nil {
		return nil, err
	}
	svc, err := a.renderService(backend)
	if err != nil {
		return nil, err
	}
	return svc.ForProject(*p)
}

// withApp runs fn with a freshly built app and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}
