// -- cmd/probe.go --
package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
	"github.com/xkilldash9x/steady/internal/driver"
	"github.com/xkilldash9x/steady/internal/observability"
)

// openClient starts the probe's browser; tests replace it.
var openClient = driver.Open

var probeActions = []string{"exists", "visible", "text", "attr", "click"}

func newProbeCmd() *cobra.Command {
	var (
		locator string
		action  string
		attr    string
		name    string
	)
	probeCmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Opens a page and performs a single resilient interaction on it",
		Example: `  steady probe https://useinsider.com/ --locator "xpath=//nav//a[normalize-space()='Company']" --action visible
  steady probe https://useinsider.com/careers/ --locator "css=a.btn" --action attr --attr href`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(probeActions, action) {
				return fmt.Errorf("unknown action %q, want one of %s", action, strings.Join(probeActions, ", "))
			}
			if action == "attr" && attr == "" {
				return fmt.Errorf("--attr is required with --action attr")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			loc, err := browser.ParseLocator(locator)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("probe")

			client, err := openClient(ctx, cfg, name, logger)
			if err != nil {
				return err
			}
			s, err := session.New(client, logger, session.OptionsFromConfig(cfg))
			if err != nil {
				_ = client.Close(session.Detach(ctx))
				return err
			}
			defer s.Close(ctx)

			if err := s.Navigate(ctx, args[0]); err != nil {
				return err
			}
			if err := s.WaitForPageLoad(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch action {
			case "exists":
				fmt.Fprintln(out, s.Exists(ctx, loc))
			case "visible":
				_, err := s.WaitVisible(ctx, loc)
				if err != nil && browser.KindOf(err) != browser.KindTimeout && browser.KindOf(err) != browser.KindNotFound {
					return err
				}
				fmt.Fprintln(out, err == nil)
			case "text":
				text, err := s.Text(ctx, loc)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, text)
			case "attr":
				v, ok, err := s.Attribute(ctx, loc, attr)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s has no attribute %q", loc, attr)
				}
				fmt.Fprintln(out, v)
			case "click":
				if err := s.Click(ctx, loc); err != nil {
					return err
				}
				u, err := s.CurrentURL(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, u)
			}
			logger.Debug("Probe done.", zap.Stringer("locator", loc), zap.String("action", action),
				zap.Int64("retries", s.Retries()))
			return nil
		},
	}

	probeCmd.Flags().StringVarP(&locator, "locator", "l", "", `element to probe, "strategy=selector" (bare selectors are CSS)`)
	probeCmd.Flags().StringVarP(&action, "action", "a", "exists", "one of "+strings.Join(probeActions, ", "))
	probeCmd.Flags().StringVar(&attr, "attr", "", "attribute to read with --action attr")
	probeCmd.Flags().StringVarP(&name, "browser", "b", "", "browser to probe with (default from config)")
	probeCmd.Flags().Bool("headless", false, "run the browser without a window")
	probeCmd.Flags().String("engine", "", "automation engine: auto, chromedp or playwright")
	probeCmd.Flags().String("remote-url", "", "attach to a running browser instead of launching one")
	_ = probeCmd.MarkFlagRequired("locator")
	return probeCmd
}
