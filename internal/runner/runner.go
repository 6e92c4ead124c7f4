// internal/runner/runner.go
//
// Package runner owns the lifecycle of a run: one browser session per run
// unit, opened, handed to a workflow and closed again no matter how the
// workflow ends. Several run units may execute in parallel; they share
// nothing but the configuration.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/driver"
)

const screenshotTimeout = 15 * time.Second

// Opener starts the automation client for a browser name.
type Opener func(ctx context.Context, cfg config.Interface, name string, logger *zap.Logger) (browser.Client, error)

// Workflow is the work performed in one session.
type Workflow func(ctx context.Context, s *session.Session) error

// Result describes one finished run unit.
type Result struct {
	Browser   string
	SessionID string
	Started   time.Time
	Duration  time.Duration
	// Retries is the number of re-executions the session needed.
	Retries int64
	// Screenshot is the path of the failure screenshot, if one was taken.
	Screenshot string
	Err        error
}

// Passed reports whether the run unit succeeded.
func (r Result) Passed() bool { return r.Err == nil }

// Runner executes workflows in freshly opened sessions.
type Runner struct {
	cfg     config.Interface
	logger  *zap.Logger
	open    Opener
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithOpener replaces the driver factory, e.g. with a scripted client.
func WithOpener(o Opener) Option {
	return func(r *Runner) { r.open = o }
}

// WithClock replaces the clock used to stamp results and screenshot names.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New returns a Runner. Browser launches are paced by the configured launch
// rate; a rate of zero does not pace them.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if lr := cfg.Browser().LaunchRate; lr > 0 {
		limit = rate.Limit(lr)
	}
	burst := cfg.Browser().LaunchBurst
	if burst < 1 {
		burst = 1
	}
	r := &Runner{
		cfg:     cfg,
		logger:  logger.Named("runner"),
		open:    driver.Open,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run opens a session on the named browser, runs wf in it and closes it.
// On failure, and when configured, a screenshot is saved before closing.
func (r *Runner) Run(ctx context.Context, name string, wf Workflow) (res Result) {
	res = Result{Browser: name, Started: r.now()}
	logger := r.logger.With(zap.String("browser", name))
	defer func() {
		res.Duration = r.now().Sub(res.Started)
		if res.Err != nil {
			logger.Error("Run failed.", zap.Duration("duration", res.Duration), zap.Error(res.Err))
			return
		}
		logger.Info("Run passed.", zap.Duration("duration", res.Duration), zap.Int64("retries", res.Retries))
	}()

	if t := r.cfg.Run().Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if err := r.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("waiting to launch %s: %w", name, err)
		return res
	}
	client, err := r.open(ctx, r.cfg, name, logger)
	if err != nil {
		res.Err = fmt.Errorf("starting %s: %w", name, err)
		return res
	}
	s, err := session.New(client, logger, session.OptionsFromConfig(r.cfg))
	if err != nil {
		_ = client.Close(session.Detach(ctx))
		res.Err = err
		return res
	}
	res.SessionID = s.ID()
	defer func() {
		if cerr := s.Close(ctx); cerr != nil && res.Err == nil {
			res.Err = fmt.Errorf("closing %s: %w", name, cerr)
		}
	}()

	res.Err = r.execute(ctx, s, wf)
	res.Retries = s.Retries()
	if res.Err != nil && r.cfg.Artifacts().ScreenshotOnFailure {
		path, err := r.screenshot(ctx, s, name)
		if err != nil {
			logger.Warn("Could not save failure screenshot.", zap.Error(err))
		} else {
			res.Screenshot = path
			logger.Info("Saved failure screenshot.", zap.String("path", path))
		}
	}
	return res
}

// execute runs wf, turning a panic into an error so the session still
// gets closed and reported.
func (r *Runner) execute(ctx context.Context, s *session.Session, wf Workflow) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Workflow panicked.", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("workflow panicked: %v", p)
		}
	}()
	return wf(ctx, s)
}

func (r *Runner) screenshot(ctx context.Context, s *session.Session, name string) (string, error) {
	sctx, cancel := context.WithTimeout(session.Detach(ctx), screenshotTimeout)
	defer cancel()
	png, err := s.Screenshot(sctx)
	if err != nil {
		return "", err
	}
	dir := r.cfg.Artifacts().ScreenshotsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating screenshots directory: %w", err)
	}
	id, _, _ := strings.Cut(s.ID(), "-")
	file := fmt.Sprintf("failure_%s_%s_%s.png", safeName(name), r.now().Format("20060102_150405"), id)
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}

// RunAll runs wf once per browser, concurrently when parallel is set.
// Results keep the order of browsers. A failing run never stops the others;
// the returned error joins every failure.
func (r *Runner) RunAll(ctx context.Context, browsers []string, parallel bool, wf Workflow) ([]Result, error) {
	if len(browsers) == 0 {
		return nil, errors.New("no browsers to run")
	}
	results := make([]Result, len(browsers))
	if parallel {
		var g errgroup.Group
		for i, name := range browsers {
			g.Go(func() error {
				results[i] = r.Run(ctx, name, wf)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range browsers {
			results[i] = r.Run(ctx, name, wf)
		}
	}

	var errs []error
	passed := 0
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Browser, res.Err))
			continue
		}
		passed++
	}
	r.logger.Info("All runs finished.",
		zap.Int("runs", len(results)), zap.Int("passed", passed), zap.Bool("parallel", parallel))
	return results, errors.Join(errs...)
}
