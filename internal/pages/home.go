// internal/pages/home.go
package pages

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
)

var (
	AcceptCookiesButton = browser.XPath("//a[contains(@class,'accept')] | //button[contains(@class,'accept') and contains(text(),'Accept')]")
	CompanyMenu         = browser.XPath("//nav//a[normalize-space()='Company']")
	CareersLink         = browser.XPath("//nav//a[normalize-space()='Careers']")
)

// Home is the landing page of the site.
type Home struct{ page }

// Open loads the home page.
func (h *Home) Open(ctx context.Context) error {
	return h.open(ctx, "")
}

// Title returns the document title.
func (h *Home) Title(ctx context.Context) (string, error) {
	return h.d.Title(ctx)
}

// AcceptCookiesIfPresent dismisses the cookie banner. A banner that never
// shows up is not an error; any other failure is.
func (h *Home) AcceptCookiesIfPresent(ctx context.Context) error {
	err := h.d.Click(ctx, AcceptCookiesButton, session.Within(h.optional))
	if missing(err) {
		h.logger.Debug("No cookie banner to accept.")
		return nil
	}
	if err == nil {
		h.logger.Info("Accepted cookie banner.")
	}
	return err
}

// GoToCareers opens Careers from the Company menu, falling back to the
// careers URL when the menu does not cooperate.
func (h *Home) GoToCareers(ctx context.Context) (*Careers, error) {
	err := h.careersFromMenu(ctx)
	if navigable(err) {
		h.logger.Warn("Menu navigation to Careers failed, opening it directly.", zap.Error(err))
		err = h.open(ctx, CareersPath)
	}
	if err != nil {
		return nil, err
	}
	return &Careers{h.page}, nil
}

func (h *Home) careersFromMenu(ctx context.Context) error {
	if err := h.d.Hover(ctx, CompanyMenu); err != nil {
		return err
	}
	if !h.d.Exists(ctx, CareersLink, session.Within(h.optional)) {
		return h.open(ctx, CareersPath)
	}
	// The dropdown animates open; a link still hidden after that is
	// activated by script.
	if _, err := h.d.WaitVisible(ctx, CareersLink, session.Within(h.settle)); err != nil {
		if !missing(err) {
			return err
		}
		h.logger.Debug("Careers link not visible, clicking by script.", zap.Error(err))
		if err := h.d.ClickScript(ctx, CareersLink); err != nil {
			return err
		}
	} else if err := h.d.Click(ctx, CareersLink); err != nil {
		return err
	}
	return h.d.WaitForPageLoad(ctx)
}
