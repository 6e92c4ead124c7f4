// internal/pages/pages_test.go
package pages_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
	"github.com/xkilldash9x/steady/internal/pages"
	"github.com/xkilldash9x/steady/internal/pages/pagestest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const poll = 10 * time.Millisecond

// newHome opens a session over site and returns its home page.
func newHome(t *testing.T, site *pagestest.Site) (*pages.Home, *session.Session) {
	t.Helper()
	return newHomeOn(t, site, nil)
}

// newHomeOn is newHome with the page objects driving wrap(session) when wrap
// is set.
func newHomeOn(t *testing.T, site *pagestest.Site, wrap func(*session.Session) pages.Driver) (*pages.Home, *session.Session) {
	t.Helper()
	s, err := session.New(site, zaptest.NewLogger(t), session.Options{
		ExplicitWait: 20 * poll,
		ImplicitWait: time.Second,
		PollInterval: poll,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	var d pages.Driver = s
	if wrap != nil {
		d = wrap(s)
	}
	home, err := pages.New(d, pagestest.BaseURL, zaptest.NewLogger(t),
		pages.WithOptionalWait(5*poll), pages.WithMenuSettle(2*poll))
	require.NoError(t, err)
	return home, s
}

func currentURL(t *testing.T, site *pagestest.Site) string {
	t.Helper()
	u, err := site.CurrentURL(context.Background())
	require.NoError(t, err)
	return u
}

func TestNew(t *testing.T) {
	site := pagestest.New(pagestest.Options{})
	s, err := session.New(site, nil, session.Options{})
	require.NoError(t, err)

	_, err = pages.New(nil, pagestest.BaseURL, nil)
	assert.Error(t, err)
	_, err = pages.New(s, "useinsider.com", nil)
	assert.ErrorContains(t, err, "must be absolute")
	_, err = pages.New(s, "http://[::1", nil)
	assert.ErrorContains(t, err, "invalid base url")
}

func TestHome(t *testing.T) {
	ctx := context.Background()

	t.Run("OpenAndAcceptCookies", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHome(t, site)

		require.NoError(t, home.Open(ctx))
		assert.Equal(t, pagestest.BaseURL, currentURL(t, site))
		title, err := home.Title(ctx)
		require.NoError(t, err)
		assert.Contains(t, title, "Insider")

		require.NoError(t, home.AcceptCookiesIfPresent(ctx))
		assert.Contains(t, site.Actions(), "click:"+pages.AcceptCookiesButton.String())
	})

	t.Run("NoBanner", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{NoCookieBanner: true})
		home, _ := newHome(t, site)
		assert.NoError(t, home.AcceptCookiesIfPresent(ctx))
	})

	t.Run("BannerFailureSurfaces", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{NoCookieBanner: true})
		boom := errors.New("renderer crashed")
		site.Add(pages.AcceptCookiesButton, nil).Fail(browser.ActionClick, boom)
		home, _ := newHome(t, site)
		assert.ErrorIs(t, home.AcceptCookiesIfPresent(ctx), boom)
	})
}

func TestGoToCareers(t *testing.T) {
	ctx := context.Background()

	t.Run("ThroughMenu", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHome(t, site)

		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)
		require.NotNil(t, careers)
		assert.Equal(t, []string{
			"hover:" + pages.CompanyMenu.String(),
			"click:" + pages.CareersLink.String(),
		}, site.Actions())
		assert.Equal(t, pagestest.BaseURL+pages.CareersPath, currentURL(t, site))
		assert.Zero(t, site.Calls("navigate"))
	})

	t.Run("HiddenLinkClickedByScript", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{NoCareersInMenu: true})
		site.Add(pages.CareersLink, nil).Hidden = true
		home, _ := newHome(t, site)

		_, err := home.GoToCareers(ctx)
		require.NoError(t, err)
		assert.Contains(t, site.Actions(), "script-click:"+pages.CareersLink.String())
	})

	t.Run("DirectWhenMenuLacksCareers", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{NoCareersInMenu: true})
		home, _ := newHome(t, site)

		_, err := home.GoToCareers(ctx)
		require.NoError(t, err)
		assert.Equal(t, pagestest.BaseURL+pages.CareersPath, currentURL(t, site))
		assert.Equal(t, 1, site.Calls("navigate"))
	})

	t.Run("DirectWhenMenuFails", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		site.Remove(pages.CompanyMenu)
		home, _ := newHome(t, site)

		_, err := home.GoToCareers(ctx)
		require.NoError(t, err)
		assert.Equal(t, pagestest.BaseURL+pages.CareersPath, currentURL(t, site))
	})

	t.Run("CancellationIsNotRecovered", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHome(t, site)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := home.GoToCareers(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, site.Calls("navigate"))
	})
}

func TestCareers(t *testing.T) {
	ctx := context.Background()

	t.Run("SectionsPresent", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHome(t, site)
		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)
		assert.NoError(t, careers.VerifySections(ctx))
	})

	t.Run("MissingSectionsNamed", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{MissingSections: []string{"Teams", "Life at Insider"}})
		home, _ := newHome(t, site)
		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)

		err = careers.VerifySections(ctx)
		require.ErrorIs(t, err, pages.ErrVerification)
		assert.Contains(t, err.Error(), "Teams, Life at Insider")
		assert.NotContains(t, err.Error(), "Locations")
	})

	t.Run("QualityAssuranceByLink", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHome(t, site)
		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)

		qa, err := careers.GoToQualityAssurance(ctx)
		require.NoError(t, err)
		require.NotNil(t, qa)
		assert.Equal(t, pagestest.BaseURL+pages.QualityAssurancePath, currentURL(t, site))
		assert.Zero(t, site.Calls("navigate"))
	})

	t.Run("QualityAssuranceDirect", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		site.Remove(pages.QualityAssurance)
		home, _ := newHome(t, site)
		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)

		_, err = careers.GoToQualityAssurance(ctx)
		require.NoError(t, err)
		assert.Equal(t, pagestest.BaseURL+pages.QualityAssurancePath, currentURL(t, site))
		assert.Equal(t, 1, site.Calls("navigate"))
	})
}

// openPositions walks the site up to the open positions list.
func openPositions(t *testing.T, site *pagestest.Site) *pages.OpenPositions {
	t.Helper()
	home, _ := newHome(t, site)
	return walkToOpenPositions(t, site, home)
}

func walkToOpenPositions(t *testing.T, site *pagestest.Site, home *pages.Home) *pages.OpenPositions {
	t.Helper()
	ctx := context.Background()
	careers, err := home.GoToCareers(ctx)
	require.NoError(t, err)
	qa, err := careers.GoToQualityAssurance(ctx)
	require.NoError(t, err)
	op, err := qa.SeeAllJobs(ctx)
	require.NoError(t, err)
	assert.Contains(t, currentURL(t, site), pages.OpenPositionsPath)
	return op
}

func TestOpenPositions(t *testing.T) {
	ctx := context.Background()

	t.Run("NativeSelects", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		op := openPositions(t, site)

		require.NoError(t, op.SetFilters(ctx, "Istanbul, Turkey", "Quality Assurance"))
		assert.Equal(t, map[string]string{
			`[id="location"]`:   "Istanbul, Turkey",
			`[id="department"]`: "Quality Assurance",
		}, site.Selected)
	})

	t.Run("CustomDropdowns", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{CustomDropdowns: true})
		op := openPositions(t, site)

		require.NoError(t, op.SetFilters(ctx, "Istanbul, Turkey", "Quality Assurance"))
		assert.Empty(t, site.Selected)
		actions := site.Actions()
		assert.Contains(t, actions, "click:"+pages.LocationFilter.String())
		assert.Contains(t, actions, "click:"+pages.DropdownOption("Istanbul, Turkey").String())
		assert.Contains(t, actions, "click:"+pages.DropdownOption("Quality Assurance").String())
	})

	t.Run("UnknownOption", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{CustomDropdowns: true})
		op := openPositions(t, site)

		err := op.SetFilters(ctx, "Atlantis", "Quality Assurance")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `filtering by location "Atlantis"`)
		assert.ErrorIs(t, err, browser.ErrNotFound)
	})

	t.Run("ListingsSkipIncompleteCards", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{Jobs: []pagestest.Job{
			pagestest.QAJob,
			{Title: "QA Automation Engineer", Department: "Quality Assurance", Location: "Istanbul, Turkey"},
			{Title: "Test Lead", Department: "Quality Assurance", Location: "Istanbul, Turkey"},
		}})
		site.Remove(pages.ListingField(3, "position-location"))
		op := openPositions(t, site)

		listings, err := op.Listings(ctx)
		require.NoError(t, err)
		require.Len(t, listings, 2)
		assert.Equal(t, pages.Listing{
			Index:      1,
			Title:      pagestest.QAJob.Title,
			Department: "Quality Assurance",
			Location:   "Istanbul, Turkey",
			ApplyURL:   pagestest.LeverURL + "-1",
		}, listings[0])
		assert.Equal(t, 2, listings[1].Index)
	})

	t.Run("NoListings", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{Jobs: []pagestest.Job{}})
		op := openPositions(t, site)

		listings, err := op.Listings(ctx)
		require.NoError(t, err)
		assert.Empty(t, listings)

		_, err = op.OpenFirstJob(ctx)
		assert.ErrorIs(t, err, pages.ErrVerification)
	})
}

func TestOpenFirstJob(t *testing.T) {
	ctx := context.Background()

	t.Run("NewWindow", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		op := openPositions(t, site)

		job, err := op.OpenFirstJob(ctx)
		require.NoError(t, err)
		assert.Equal(t, pagestest.LeverURL+"-1", currentURL(t, site))
		assert.Contains(t, site.Actions(), "hover:"+pages.ListingCard(1).String())
		assert.NoError(t, job.VerifyOnLever(ctx))
	})

	t.Run("SameWindow", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{SameWindow: true})
		op := openPositions(t, site)

		job, err := op.OpenFirstJob(ctx)
		require.NoError(t, err)
		assert.Equal(t, pagestest.LeverURL+"-1", currentURL(t, site))
		assert.NoError(t, job.VerifyOnLever(ctx))
	})

	t.Run("NotOnLever", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		op := openPositions(t, site)
		job, err := op.OpenFirstJob(ctx)
		require.NoError(t, err)

		site.SetPage("https://example.com/jobs/1", "Elsewhere")
		err = job.VerifyOnLever(ctx)
		require.ErrorIs(t, err, pages.ErrVerification)
		assert.Contains(t, err.Error(), "example.com")
	})

	t.Run("NoApplySection", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		site.Remove(pages.ApplySection)
		op := openPositions(t, site)
		job, err := op.OpenFirstJob(ctx)
		require.NoError(t, err)

		err = job.VerifyOnLever(ctx)
		require.ErrorIs(t, err, pages.ErrVerification)
		assert.Contains(t, err.Error(), "no application section")
	})
}

// faultyDriver fails the operations named in failing ("select:<loc>",
// "hover:<loc>", "click:<loc>") and passes everything else to the session.
type faultyDriver struct {
	*session.Session
	failing map[string]error
}

func (d *faultyDriver) fault(op string, loc browser.Locator) error {
	return d.failing[op+":"+loc.String()]
}

func (d *faultyDriver) SelectByText(ctx context.Context, loc browser.Locator, text string, opts ...session.OpOption) error {
	if err := d.fault("select", loc); err != nil {
		return err
	}
	return d.Session.SelectByText(ctx, loc, text, opts...)
}

func (d *faultyDriver) Hover(ctx context.Context, loc browser.Locator, opts ...session.OpOption) error {
	if err := d.fault("hover", loc); err != nil {
		return err
	}
	return d.Session.Hover(ctx, loc, opts...)
}

func (d *faultyDriver) Click(ctx context.Context, loc browser.Locator, opts ...session.OpOption) error {
	if err := d.fault("click", loc); err != nil {
		return err
	}
	return d.Session.Click(ctx, loc, opts...)
}

func failing(faults map[string]error) func(*session.Session) pages.Driver {
	return func(s *session.Session) pages.Driver {
		return &faultyDriver{Session: s, failing: faults}
	}
}

func TestFallbacksOnlyCoverMissingElements(t *testing.T) {
	ctx := context.Background()
	unsupported := browser.Errorf(browser.KindUnsupportedConfiguration, "select", "id=location", "engine cannot drive selects")

	t.Run("SelectFailurePropagates", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{CustomDropdowns: true})
		home, _ := newHomeOn(t, site, failing(map[string]error{
			"select:" + pages.LocationFilter.String(): unsupported,
		}))
		op := walkToOpenPositions(t, site, home)

		err := op.SetFilters(ctx, "Istanbul, Turkey", "Quality Assurance")
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrUnsupportedConfiguration)
		assert.NotContains(t, site.Actions(), "click:"+pages.LocationFilter.String(), "the dropdown must not be tried")
	})

	t.Run("MenuFailurePropagates", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHomeOn(t, site, failing(map[string]error{
			"hover:" + pages.CompanyMenu.String(): unsupported,
		}))

		_, err := home.GoToCareers(ctx)
		assert.ErrorIs(t, err, browser.ErrUnsupportedConfiguration)
		assert.Zero(t, site.Calls("navigate"))
	})

	t.Run("MenuFailureWithoutKindPropagates", func(t *testing.T) {
		boom := errors.New("renderer crashed")
		site := pagestest.New(pagestest.Options{})
		home, _ := newHomeOn(t, site, failing(map[string]error{
			"click:" + pages.CareersLink.String(): boom,
		}))

		_, err := home.GoToCareers(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, site.Calls("navigate"))
	})

	t.Run("QualityAssuranceFailurePropagates", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHomeOn(t, site, failing(map[string]error{
			"click:" + pages.QualityAssurance.String(): unsupported,
		}))
		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)

		_, err = careers.GoToQualityAssurance(ctx)
		assert.ErrorIs(t, err, browser.ErrUnsupportedConfiguration)
		assert.Zero(t, site.Calls("navigate"))
	})

	t.Run("CoveredLinkFallsBackToURL", func(t *testing.T) {
		site := pagestest.New(pagestest.Options{})
		home, _ := newHomeOn(t, site, failing(map[string]error{
			"click:" + pages.QualityAssurance.String(): browser.Errorf(browser.KindInterceptedAction, "click", "qa", "covered by a modal"),
		}))
		careers, err := home.GoToCareers(ctx)
		require.NoError(t, err)

		_, err = careers.GoToQualityAssurance(ctx)
		require.NoError(t, err)
		assert.Equal(t, pagestest.BaseURL+pages.QualityAssurancePath, currentURL(t, site))
		assert.Equal(t, 1, site.Calls("navigate"))
	})
}
