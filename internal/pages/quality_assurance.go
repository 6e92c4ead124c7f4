// internal/pages/quality_assurance.go
package pages

import (
	"context"

	"github.com/xkilldash9x/steady/internal/browser"
)

var SeeAllQAJobs = browser.XPath("//a[contains(@href,'open-positions') and contains(.,'See all QA jobs')]")

// QualityAssurancePage is the landing page of the QA team.
type QualityAssurancePage struct{ page }

// SeeAllJobs follows the call to action to the open positions list.
func (q *QualityAssurancePage) SeeAllJobs(ctx context.Context) (*OpenPositions, error) {
	if err := q.d.Click(ctx, SeeAllQAJobs); err != nil {
		return nil, err
	}
	if err := q.d.WaitForPageLoad(ctx); err != nil {
		return nil, err
	}
	return &OpenPositions{q.page}, nil
}
