package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/vtxstudio/vtx/internal/logging"
)

var longFlagPattern = regexp.MustCompile(`--[a-zA-Z0-9][a-zA-Z0-9_-]*`)

// Prober describes the flag surface of a backend module. Implementations
// return an error when the description could not be obtained so callers can
// tell "probe failed" apart from "module advertises nothing".
type Prober interface {
	Probe(ctx context.Context, module string) (Capabilities, error)
}

// ParseHelpFlags extracts every long flag mentioned in help output.
func ParseHelpFlags(module, help string) Capabilities {
	return NewCapabilities(module, longFlagPattern.FindAllString(help, -1)...)
}

// HelpProber asks the module itself via `--help`.
type HelpProber struct {
	runner Runner
}

func NewHelpProber(runner Runner) *HelpProber {
	return &HelpProber{runner: runner}
}

func (p *HelpProber) Probe(ctx context.Context, module string) (Capabilities, error) {
	out, err := p.runner.Help(ctx, module)
	if err != nil {
		return Capabilities{Module: module}, err
	}
	return ParseHelpFlags(module, out), nil
}

// StaticProber serves a fixed manifest of module flags.
type StaticProber struct {
	Manifest map[string][]string
}

func (p StaticProber) Probe(_ context.Context, module string) (Capabilities, error) {
	flags, ok := p.Manifest[module]
	if !ok {
		return Capabilities{Module: module}, fmt.Errorf("no manifest entry for %s", module)
	}
	return NewCapabilities(module, flags...), nil
}

type probeEntry struct {
	caps Capabilities
	err  error
}

// CachedProber memoises probe results per module for the life of the
// process. Failed probes are cached too; backends do not change mid-run.
type CachedProber struct {
	prober Prober
	logger *slog.Logger

	// probing serialises backend probes; mu guards entries only, so Peek
	// never waits on a running probe.
	probing sync.Mutex
	mu      sync.RWMutex
	entries map[string]probeEntry
}

// NewCachedProber creates a caching wrapper around a prober.
func NewCachedProber(prober Prober, logger *slog.Logger) *CachedProber {
	return &CachedProber{
		prober:  prober,
		logger:  logging.OrDiscard(logger),
		entries: make(map[string]probeEntry),
	}
}

// Probe returns the cached capabilities for module, probing on first use.
func (c *CachedProber) Probe(ctx context.Context, module string) (Capabilities, error) {
	if e, ok := c.lookup(module); ok {
		return e.caps, e.err
	}
	c.probing.Lock()
	defer c.probing.Unlock()
	if e, ok := c.lookup(module); ok {
		return e.caps, e.err
	}
	return c.probe(ctx, module)
}

// Peek returns the cached entry without probing.
func (c *CachedProber) Peek(module string) (Capabilities, bool) {
	e, ok := c.lookup(module)
	return e.caps, ok
}

// Refresh forces a new probe regardless of what is cached.
func (c *CachedProber) Refresh(ctx context.Context, module string) (Capabilities, error) {
	c.probing.Lock()
	defer c.probing.Unlock()
	return c.probe(ctx, module)
}

func (c *CachedProber) lookup(module string) (probeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[module]
	return e, ok
}

// probe runs the backend probe and stores the outcome. Callers hold probing.
func (c *CachedProber) probe(ctx context.Context, module string) (Capabilities, error) {
	start := time.Now()
	caps, err := c.prober.Probe(ctx, module)
	if err != nil {
		c.logger.Warn("capability probe failed", "module", module, "error", err)
		caps = Capabilities{Module: module}
	} else {
		c.logger.Debug("capability probe complete",
			"module", module,
			"flags", len(caps.Flags),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	c.mu.Lock()
	c.entries[module] = probeEntry{caps: caps, err: err}
	c.mu.Unlock()
	return caps, err
}

// Invalidate drops every cached entry.
func (c *CachedProber) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]probeEntry)
	c.mu.Unlock()
}
