// internal/driver/driver.go
//
// Package driver turns a browser name and the browser configuration into a
// ready automation client.
package driver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/cdp"
	"github.com/xkilldash9x/steady/internal/browser/pw"
	"github.com/xkilldash9x/steady/internal/config"
)

// Engine is the automation backend that drives a browser.
type Engine string

const (
	EngineAuto       Engine = "auto"
	EngineChromedp   Engine = "chromedp"
	EnginePlaywright Engine = "playwright"
)

// Target is a resolved browser name: the engine that will drive it and the
// name that engine knows it by.
type Target struct {
	Engine  Engine
	Browser string
}

// Resolve maps a user-facing browser name onto an engine. Chrome and
// Chromium go to chromedp unless playwright is requested; Firefox and WebKit
// are only reachable through playwright.
func Resolve(name, engine string) (Target, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	e := Engine(strings.ToLower(strings.TrimSpace(engine)))
	if e == "" {
		e = EngineAuto
	}

	switch e {
	case EngineAuto, EngineChromedp, EnginePlaywright:
	default:
		return Target{}, browser.Errorf(browser.KindUnsupportedConfiguration, "open-browser", string(e), "unknown engine %q", engine)
	}

	switch n {
	case "chrome", "chromium":
		if e == EnginePlaywright {
			return Target{Engine: EnginePlaywright, Browser: "chromium"}, nil
		}
		return Target{Engine: EngineChromedp, Browser: n}, nil
	case "firefox", "webkit":
		if e == EngineChromedp {
			return Target{}, browser.Errorf(browser.KindUnsupportedConfiguration, "open-browser", n,
				"%s cannot be driven over the DevTools protocol", n)
		}
		return Target{Engine: EnginePlaywright, Browser: n}, nil
	default:
		return Target{}, browser.Errorf(browser.KindUnsupportedConfiguration, "open-browser", name, "unsupported browser %q", name)
	}
}

// CDPOptions maps the configuration onto chromedp client options.
func CDPOptions(cfg config.Interface) cdp.Options {
	b := cfg.Browser()
	return cdp.Options{
		Headless:       b.Headless,
		RemoteURL:      b.RemoteURL,
		ExecPath:       b.ExecPath,
		WindowWidth:    b.WindowWidth,
		WindowHeight:   b.WindowHeight,
		UserAgent:      b.UserAgent,
		Args:           b.Args,
		CommandTimeout: cfg.Wait().Implicit,
	}
}

// PlaywrightOptions maps the configuration onto playwright client options.
// Binaries are installed on demand unless a remote browser or an explicit
// executable is configured.
func PlaywrightOptions(cfg config.Interface, name string) pw.Options {
	b := cfg.Browser()
	return pw.Options{
		Browser:        name,
		Headless:       b.Headless,
		RemoteURL:      b.RemoteURL,
		ExecPath:       b.ExecPath,
		Args:           b.Args,
		WindowWidth:    b.WindowWidth,
		WindowHeight:   b.WindowHeight,
		UserAgent:      b.UserAgent,
		Install:        b.RemoteURL == "" && b.ExecPath == "",
		CommandTimeout: cfg.Wait().Implicit,
		ActionTimeout:  b.ActionTimeout,
	}
}

// Open builds a client for the named browser. An empty name selects the
// configured default.
func Open(ctx context.Context, cfg config.Interface, name string, logger *zap.Logger) (browser.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = cfg.Browser().Name
	}
	target, err := Resolve(name, cfg.Browser().Engine)
	if err != nil {
		return nil, err
	}
	logger.Info("Opening browser.",
		zap.String("browser", target.Browser),
		zap.String("engine", string(target.Engine)),
		zap.Bool("remote", cfg.Browser().RemoteURL != ""))

	var client browser.Client
	switch target.Engine {
	case EngineChromedp:
		client, err = cdp.New(ctx, CDPOptions(cfg), logger)
	default:
		client, err = pw.New(ctx, PlaywrightOptions(cfg, target.Browser), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target.Browser, err)
	}
	return client, nil
}
