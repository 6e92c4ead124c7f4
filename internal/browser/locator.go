// internal/browser/locator.go
package browser

import (
	"fmt"
	"strings"
)

// Strategy names how a Locator's selector is interpreted.
type Strategy string

const (
	ByID              Strategy = "id"
	ByCSS             Strategy = "css"
	ByXPath           Strategy = "xpath"
	ByLinkText        Strategy = "link-text"
	ByPartialLinkText Strategy = "partial-link-text"
	ByName            Strategy = "name"
	ByTag             Strategy = "tag"
	ByClass           Strategy = "class"
)

// strategies is the closed set of supported strategies.
var strategies = map[Strategy]bool{
	ByID: true, ByCSS: true, ByXPath: true, ByLinkText: true,
	ByPartialLinkText: true, ByName: true, ByTag: true, ByClass: true,
}

// Locator identifies zero or more DOM nodes. It is a comparable value and is
// never mutated after construction.
type Locator struct {
	Strategy Strategy
	Selector string
}

// ID, CSS, XPath and LinkText are shorthand constructors used by page objects.
func ID(id string) Locator         { return Locator{Strategy: ByID, Selector: id} }
func CSS(sel string) Locator       { return Locator{Strategy: ByCSS, Selector: sel} }
func XPath(expr string) Locator    { return Locator{Strategy: ByXPath, Selector: expr} }
func LinkText(text string) Locator { return Locator{Strategy: ByLinkText, Selector: text} }

// String renders the locator in the "strategy=selector" form accepted by ParseLocator.
func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Selector
}

// Validate reports whether the locator can be sent to a client.
func (l Locator) Validate() error {
	if !strategies[l.Strategy] {
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
	if strings.TrimSpace(l.Selector) == "" {
		return fmt.Errorf("locator %s has an empty selector", l.Strategy)
	}
	return nil
}

// ParseLocator parses "strategy=selector". A string without a recognized
// strategy prefix is treated as a CSS selector, except that a leading "/" or
// "(" marks an XPath expression.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	if i := strings.Index(s, "="); i > 0 {
		strategy := Strategy(strings.ToLower(strings.TrimSpace(s[:i])))
		if strategies[strategy] {
			loc := Locator{Strategy: strategy, Selector: s[i+1:]}
			return loc, loc.Validate()
		}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return XPath(s), nil
	}
	return CSS(s), nil
}

// Dialect is the query language a Query is written in.
type Dialect int

const (
	DialectCSS Dialect = iota
	DialectXPath
)

// Query is a locator rendered into one of the two query languages every
// client understands.
type Query struct {
	Dialect  Dialect
	Selector string
}

// Query renders the locator as CSS where possible and XPath otherwise.
func (l Locator) Query() Query {
	switch l.Strategy {
	case ByID:
		return Query{DialectCSS, `[id=` + CSSString(l.Selector) + `]`}
	case ByName:
		return Query{DialectCSS, `[name=` + CSSString(l.Selector) + `]`}
	case ByClass:
		return Query{DialectCSS, `[class~=` + CSSString(l.Selector) + `]`}
	case ByTag:
		return Query{DialectCSS, l.Selector}
	case ByXPath:
		return Query{DialectXPath, l.Selector}
	case ByLinkText:
		return Query{DialectXPath, `//a[normalize-space(.)=` + XPathLiteral(l.Selector) + `]`}
	case ByPartialLinkText:
		return Query{DialectXPath, `//a[contains(normalize-space(.),` + XPathLiteral(l.Selector) + `)]`}
	default:
		return Query{DialectCSS, l.Selector}
	}
}

// CSSString quotes s as a CSS string. Only the quote, the backslash and
// control characters are escaped; NUL becomes U+FFFD as browsers do.
func CSSString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// XPathLiteral quotes s for XPath 1.0, which has no escape sequences.
func XPathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, `'`+p+`'`)
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
