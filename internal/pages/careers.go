// internal/pages/careers.go
package pages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
)

const lower = `translate(text(),'ABCDEFGHIJKLMNOPQRSTUVWXYZ','abcdefghijklmnopqrstuvwxyz')`

var (
	LocationsHeading = browser.XPath("//h3[contains(" + lower + ",'our locations') or contains(" + lower + ",'locations')] | //h2[contains(" + lower + ",'our locations')]")
	TeamsHeading     = browser.XPath("//h3[contains(" + lower + ",'find your calling') or contains(.,'Teams')]")
	LifeAtHeading    = browser.XPath("//h2[contains(.,'Life at Insider')] | //h3[contains(.,'Life at Insider')]")
	QualityAssurance = browser.LinkText("Quality Assurance")
)

// Section is a block the careers page must show.
type Section struct {
	Name    string
	Locator browser.Locator
}

// CareersSections are checked by VerifySections, in order.
var CareersSections = []Section{
	{"Locations", LocationsHeading},
	{"Teams", TeamsHeading},
	{"Life at Insider", LifeAtHeading},
}

// Careers is the careers landing page.
type Careers struct{ page }

// VerifySections checks that every careers section is present and names
// all the missing ones.
func (c *Careers) VerifySections(ctx context.Context) error {
	var missing []string
	for _, s := range CareersSections {
		if !c.d.Exists(ctx, s.Locator) {
			missing = append(missing, s.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: careers page is missing sections: %s", ErrVerification, strings.Join(missing, ", "))
	}
	c.logger.Info("Careers page sections present.")
	return nil
}

// GoToQualityAssurance follows the Quality Assurance team link, falling back
// to the team page URL.
func (c *Careers) GoToQualityAssurance(ctx context.Context) (*QualityAssurancePage, error) {
	err := c.d.Click(ctx, QualityAssurance)
	if err == nil {
		err = c.d.WaitForPageLoad(ctx)
	}
	if navigable(err) {
		c.logger.Warn("Quality Assurance link failed, opening the page directly.", zap.Error(err))
		err = c.open(ctx, QualityAssurancePath)
	}
	if err != nil {
		return nil, err
	}
	return &QualityAssurancePage{c.page}, nil
}
