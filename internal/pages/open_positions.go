// internal/pages/open_positions.go
package pages

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
)

var (
	LocationFilter   = browser.ID("location")
	DepartmentFilter = browser.ID("department")
	ListingItem      = browser.CSS("div.position-list-item")
)

// hasClass matches an element carrying cls among its classes.
func hasClass(cls string) string {
	return "contains(concat(' ', normalize-space(@class), ' '), ' " + cls + " ')"
}

// ListingCard addresses the i-th listing (1-based) in document order.
func ListingCard(i int) browser.Locator {
	return browser.XPath(fmt.Sprintf("(//div[%s])[%d]", hasClass("position-list-item"), i))
}

// ListingField addresses the field of the i-th listing whose class is cls.
func ListingField(i int, cls string) browser.Locator {
	return browser.XPath(fmt.Sprintf("%s//div[%s]", ListingCard(i).Selector, hasClass(cls)))
}

// ViewRoleButton addresses the Lever link of the i-th listing.
func ViewRoleButton(i int) browser.Locator {
	return browser.XPath(ListingCard(i).Selector +
		"//a[contains(@href,'jobs.lever.co') and (contains(text(),'View Role') or contains(text(),'Apply'))]")
}

// DropdownOption addresses an entry of the custom dropdown some filters render in
// place of a native select.
func DropdownOption(text string) browser.Locator {
	return browser.XPath("//div[contains(@class,'dropdown')]//span[normalize-space()=" + browser.XPathLiteral(text) + "]")
}

// Listing is one job card of the open positions list.
type Listing struct {
	// Index is the card's 1-based position in the list.
	Index      int
	Title      string
	Department string
	Location   string
	// ApplyURL is the target of the card's View Role button.
	ApplyURL string
}

// OpenPositions is the filterable list of open roles.
type OpenPositions struct{ page }

// SetFilters narrows the list to location and department.
func (o *OpenPositions) SetFilters(ctx context.Context, location, department string) error {
	if err := o.choose(ctx, LocationFilter, location); err != nil {
		return fmt.Errorf("filtering by location %q: %w", location, err)
	}
	if err := o.choose(ctx, DepartmentFilter, department); err != nil {
		return fmt.Errorf("filtering by department %q: %w", department, err)
	}
	o.logger.Info("Filters applied.", zap.String("location", location), zap.String("department", department))
	return nil
}

// choose picks value in a native select, or in the custom dropdown when the
// filter is not one.
func (o *OpenPositions) choose(ctx context.Context, filter browser.Locator, value string) error {
	err := o.d.SelectByText(ctx, filter, value)
	if !errors.Is(err, session.ErrNotSelect) {
		return err
	}
	o.logger.Debug("Native select unavailable, using the dropdown.", zap.Stringer("filter", filter), zap.Error(err))
	if err := o.d.Click(ctx, filter); err != nil {
		return err
	}
	return o.d.Click(ctx, DropdownOption(value))
}

// Listings reads every job card on the page. Cards missing one of the
// fields are skipped.
func (o *OpenPositions) Listings(ctx context.Context) ([]Listing, error) {
	if _, err := o.d.WaitVisible(ctx, ListingItem); err != nil {
		if missing(err) {
			o.logger.Info("No job listings shown.")
			return []Listing{}, nil
		}
		return nil, err
	}

	n := o.d.Count(ctx, ListingItem)
	listings := make([]Listing, 0, n)
	for i := 1; i <= n; i++ {
		l, err := o.listing(ctx, i)
		if err != nil {
			if !missing(err) {
				return nil, fmt.Errorf("reading job card %d: %w", i, err)
			}
			o.logger.Debug("Skipping incomplete job card.", zap.Int("index", i), zap.Error(err))
			continue
		}
		listings = append(listings, l)
	}
	o.logger.Info("Job listings read.", zap.Int("cards", n), zap.Int("listings", len(listings)))
	return listings, nil
}

func (o *OpenPositions) listing(ctx context.Context, i int) (Listing, error) {
	l := Listing{Index: i}
	fields := []struct {
		cls string
		dst *string
	}{
		{"position-title", &l.Title},
		{"position-department", &l.Department},
		{"position-location", &l.Location},
	}
	for _, f := range fields {
		v, err := o.d.Text(ctx, ListingField(i, f.cls), session.Within(0))
		if err != nil {
			return Listing{}, err
		}
		*f.dst = v
	}
	href, ok, err := o.d.Attribute(ctx, ViewRoleButton(i), "href", session.Within(0))
	if err != nil {
		return Listing{}, err
	}
	if !ok {
		return Listing{}, fmt.Errorf("job card %d has a View Role button without a link", i)
	}
	l.ApplyURL = href
	return l, nil
}

// OpenFirstJob opens the first listing's View Role link and focuses the
// window it opens, if any.
func (o *OpenPositions) OpenFirstJob(ctx context.Context) (*JobDetail, error) {
	listings, err := o.Listings(ctx)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, fmt.Errorf("%w: there are no job listings to open", ErrVerification)
	}
	first := listings[0]
	card := ListingCard(first.Index)
	if err := o.d.ScrollIntoView(ctx, card); err != nil {
		return nil, err
	}
	// The button is revealed on hover.
	if err := o.d.Hover(ctx, card); err != nil {
		return nil, err
	}
	if err := o.d.Click(ctx, ViewRoleButton(first.Index)); err != nil {
		return nil, err
	}
	o.logger.Info("Opened job.", zap.String("title", first.Title), zap.String("url", first.ApplyURL))

	err = o.d.SwitchToNewWindow(ctx, session.Within(o.optional))
	switch {
	case browser.KindOf(err) == browser.KindTimeout:
		o.logger.Debug("Job opened in the same window.")
	case err != nil:
		return nil, err
	}
	if err := o.d.WaitForPageLoad(ctx); err != nil {
		return nil, err
	}
	return &JobDetail{o.page}, nil
}
