// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser/session"
	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/observability"
	"github.com/xkilldash9x/steady/internal/runner"
	"github.com/xkilldash9x/steady/internal/scenario"
)

// runnerOptions lets tests swap the driver factory.
var runnerOptions []runner.Option

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the careers workflow in one or more browsers",
		Example: `  steady run
  steady run --browser chrome,firefox --parallel
  STEADY_BROWSER_HEADLESS=true steady run --engine playwright`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			criteria := scenario.CriteriaFromConfig(cfg.Scenario())
			if err := criteria.Validate(); err != nil {
				return err
			}
			logger.Info("Starting run.",
				zap.Strings("browsers", cfg.Run().Browsers),
				zap.Bool("parallel", cfg.Run().Parallel),
				zap.String("base_url", cfg.Site().BaseURL))

			r := runner.New(cfg, logger, runnerOptions...)
			results, err := r.RunAll(ctx, cfg.Run().Browsers, cfg.Run().Parallel, careersWorkflow(cfg, criteria, logger))
			printResults(cmd.OutOrStdout(), results)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			return nil
		},
	}

	runCmd.Flags().StringSliceP("browser", "b", nil, "browsers to run in, e.g. chrome,firefox (overrides config/env)")
	runCmd.Flags().BoolP("parallel", "p", false, "run the browsers concurrently")
	runCmd.Flags().Bool("headless", false, "run browsers without a window")
	runCmd.Flags().String("engine", "", "automation engine: auto, chromedp or playwright")
	runCmd.Flags().String("remote-url", "", "attach to a running browser instead of launching one")
	runCmd.Flags().String("base-url", "", "site under test")
	runCmd.Flags().Duration("timeout", 0, "budget of each browser run")
	return runCmd
}

// careersWorkflow runs the careers scenario in the session it is given.
func careersWorkflow(cfg config.Interface, criteria scenario.Criteria, logger *zap.Logger) runner.Workflow {
	return func(ctx context.Context, s *session.Session) error {
		wf, err := scenario.NewCareers(s, cfg.Site().BaseURL, criteria, logger.With(zap.String("session_id", s.ID())))
		if err != nil {
			return err
		}
		_, err = wf.Run(ctx)
		return err
	}
}

func printResults(w io.Writer, results []runner.Result) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BROWSER\tRESULT\tDURATION\tRETRIES\tSCREENSHOT")
	for _, res := range results {
		status := "PASS"
		if !res.Passed() {
			status = "FAIL"
		}
		shot := res.Screenshot
		if shot == "" {
			shot = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", res.Browser, status, res.Duration.Round(time.Millisecond), res.Retries, shot)
	}
	tw.Flush()
}
