// internal/pages/job_detail.go
package pages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
)

// LeverHost serves the job descriptions and application forms.
const LeverHost = "jobs.lever.co"

var ApplySection = browser.XPath("//h2[contains(.,'Apply for this job')] | //button[contains(.,'Apply')]")

// JobDetail is a job description hosted on Lever.
type JobDetail struct{ page }

// VerifyOnLever checks that the browser landed on Lever and that the page
// offers a way to apply.
func (j *JobDetail) VerifyOnLever(ctx context.Context) error {
	u, err := j.d.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(u, LeverHost) {
		return fmt.Errorf("%w: expected a %s page, got %s", ErrVerification, LeverHost, u)
	}
	if !j.d.Exists(ctx, ApplySection) {
		return fmt.Errorf("%w: %s has no application section", ErrVerification, u)
	}
	j.logger.Info("Job page verified.", zap.String("url", u))
	return nil
}
