// internal/pages/pagestest/site.go
//
// Package pagestest scripts the careers site on top of the in-memory
// browser client, for tests of the page objects and everything above them.
package pagestest

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/browsertest"
	"github.com/xkilldash9x/steady/internal/pages"
)

const (
	BaseURL   = "https://useinsider.com/"
	HomeTitle = "#1 Leader in Individualized, Cross-Channel CX — Insider"
	LeverURL  = "https://jobs.lever.co/useinsider/0d7c1b"
)

// Job is one card of the open positions list.
type Job struct {
	Title, Department, Location string
}

// QAJob is a listing that matches the default search.
var QAJob = Job{"Senior Software Quality Assurance Engineer", "Quality Assurance", "Istanbul, Turkey"}

// Options vary the scripted site.
type Options struct {
	Jobs []Job
	// NoCookieBanner leaves the banner out entirely.
	NoCookieBanner bool
	// NoCareersInMenu removes the Careers entry from the Company menu.
	NoCareersInMenu bool
	// MissingSections drops careers sections by name.
	MissingSections []string
	// CustomDropdowns renders the filters as custom dropdowns instead of
	// native selects.
	CustomDropdowns bool
	// SameWindow opens the job in the current window.
	SameWindow bool
	// Title overrides the home page title.
	Title string
}

// Site is a scripted careers site.
type Site struct {
	*browsertest.Client
	// Selected records the options chosen in native selects, keyed by the
	// select's query selector.
	Selected map[string]string
}

// New builds a fake client serving the careers site.
func New(opts Options) *Site {
	c := browsertest.New()
	s := &Site{Client: c, Selected: make(map[string]string)}
	if opts.Jobs == nil {
		opts.Jobs = []Job{QAJob}
	}
	title := opts.Title
	if title == "" {
		title = HomeTitle
	}
	c.SetPage("about:blank", title)

	if !opts.NoCookieBanner {
		c.Add(pages.AcceptCookiesButton, &browsertest.Element{
			Text: "Accept All",
			OnPerform: func(c *browsertest.Client, a browser.Action, _ string) {
				if a == browser.ActionClick || a == browser.ActionScriptClick {
					c.Remove(pages.AcceptCookiesButton)
				}
			},
		})
	}

	c.Add(pages.CompanyMenu, &browsertest.Element{Text: "Company"})
	if !opts.NoCareersInMenu {
		c.Add(pages.CareersLink, &browsertest.Element{
			Text:      "Careers",
			OnPerform: navigateOnClick(BaseURL+pages.CareersPath, "Insider Careers"),
		})
	}

	for _, sec := range pages.CareersSections {
		if contains(opts.MissingSections, sec.Name) {
			continue
		}
		c.Add(sec.Locator, &browsertest.Element{Text: sec.Name})
	}
	c.Add(pages.QualityAssurance, &browsertest.Element{
		Text:      "Quality Assurance",
		OnPerform: navigateOnClick(BaseURL+pages.QualityAssurancePath, "Quality Assurance Careers"),
	})
	c.Add(pages.SeeAllQAJobs, &browsertest.Element{
		Text:      "See all QA jobs",
		OnPerform: navigateOnClick(BaseURL+pages.OpenPositionsPath+"?department=qualityassurance", "Open Positions"),
	})

	c.Add(pages.LocationFilter, nil)
	c.Add(pages.DepartmentFilter, nil)
	if opts.CustomDropdowns {
		seen := make(map[string]bool)
		for _, j := range opts.Jobs {
			for _, v := range []string{j.Location, j.Department} {
				if !seen[v] {
					seen[v] = true
					c.Add(pages.DropdownOption(v), &browsertest.Element{Text: v})
				}
			}
		}
	}
	c.EvaluateFunc = func(src string, args []any) (any, error) {
		if len(args) != 3 {
			return "complete", nil
		}
		if opts.CustomDropdowns {
			return "not-select", nil
		}
		s.Selected[fmt.Sprint(args[1])] = fmt.Sprint(args[2])
		return "selected", nil
	}

	for i, j := range opts.Jobs {
		n := i + 1
		c.Add(pages.ListingItem, &browsertest.Element{})
		c.Add(pages.ListingCard(n), &browsertest.Element{})
		c.Add(pages.ListingField(n, "position-title"), &browsertest.Element{Text: j.Title})
		c.Add(pages.ListingField(n, "position-department"), &browsertest.Element{Text: j.Department})
		c.Add(pages.ListingField(n, "position-location"), &browsertest.Element{Text: j.Location})
		url := fmt.Sprintf("%s-%d", LeverURL, n)
		c.Add(pages.ViewRoleButton(n), &browsertest.Element{
			Text:  "View Role",
			Attrs: map[string]string{"href": url},
			OnPerform: func(c *browsertest.Client, a browser.Action, _ string) {
				if a != browser.ActionClick && a != browser.ActionScriptClick {
					return
				}
				if opts.SameWindow {
					c.SetPage(url, j.Title)
					return
				}
				c.OpenWindow(url)
			},
		})
	}
	c.Add(pages.ApplySection, &browsertest.Element{Text: "Apply for this job"})
	return s
}

func navigateOnClick(url, title string) func(*browsertest.Client, browser.Action, string) {
	return func(c *browsertest.Client, a browser.Action, _ string) {
		if a == browser.ActionClick || a == browser.ActionScriptClick {
			c.SetPage(url, title)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
