// internal/browser/session/session_test.go
package session

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
	"github.com/xkilldash9x/steady/internal/browser/browsertest"
	"github.com/xkilldash9x/steady/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	poll  = 10 * time.Millisecond
	slack = 60 * time.Millisecond
)

var buy = browser.CSS("#buy")

type optionsOption func(*Options)

// newTestSession builds a session over client with fast test budgets.
func newTestSession(t *testing.T, client browser.Client, opts ...optionsOption) *Session {
	t.Helper()
	o := Options{
		ExplicitWait: 20 * poll,
		ImplicitWait: time.Second,
		PollInterval: poll,
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := New(client, zaptest.NewLogger(t), o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil, Options{})
	assert.Error(t, err)

	a := newTestSession(t, browsertest.New())
	b := newTestSession(t, browsertest.New())
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	o := OptionsFromConfig(cfg)
	assert.Equal(t, Options{
		ExplicitWait: 20 * time.Second,
		ImplicitWait: 10 * time.Second,
		PollInterval: 500 * time.Millisecond,
		MaxRetries:   3,
		RetryDelay:   2 * time.Second,
	}, o)
}

func TestFind(t *testing.T) {
	ctx := context.Background()

	t.Run("AppearsAfterTwoPolls", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{AppearAfter: 2 * poll})
		s := newTestSession(t, fake)

		start := time.Now()
		h, err := s.Find(ctx, buy, Within(10*poll))
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.NotNil(t, h)
		assert.GreaterOrEqual(t, elapsed, 2*poll)
		assert.Less(t, elapsed, 3*poll+slack)
	})

	t.Run("NeverAppearsIsNotFound", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		timeout := 5 * poll
		start := time.Now()
		_, err := s.Find(ctx, buy, Within(timeout))

		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNotFound)
		assert.GreaterOrEqual(t, time.Since(start), timeout)

		var be *browser.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, timeout, be.Timeout)
		assert.Contains(t, err.Error(), "css=#buy", "the failure must name the locator")
		assert.Equal(t, int64(0), s.Retries(), "not found is never retried")
	})

	t.Run("CancelledContextIsNotNotFound", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(2*poll, cancel)

		_, err := s.Find(cctx, buy, Within(time.Minute))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, browser.ErrNotFound)
	})

	t.Run("InvalidLocator", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		_, err := s.Find(ctx, browser.Locator{Strategy: "shadow", Selector: "x"})
		assert.ErrorContains(t, err, "unknown locator strategy")
	})
}

func TestFindAll(t *testing.T) {
	ctx := context.Background()

	t.Run("ZeroMatchesIsEmptyNotFailure", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		hs := s.FindAll(ctx, browser.CSS("li.job"))
		assert.NotNil(t, hs)
		assert.Empty(t, hs)
	})

	t.Run("ReturnsEveryMatchWithoutWaiting", func(t *testing.T) {
		fake := browsertest.New()
		jobs := browser.CSS("li.job")
		fake.Add(jobs, nil)
		fake.Add(jobs, nil)
		fake.Add(jobs, &browsertest.Element{AppearAfter: time.Hour})
		s := newTestSession(t, fake)

		assert.Len(t, s.FindAll(ctx, jobs), 2)
		assert.Equal(t, 2, s.Count(ctx, jobs))
		assert.Equal(t, 2, fake.Calls("findall:css=li.job"))
	})
}

func TestExists(t *testing.T) {
	ctx := context.Background()

	t.Run("TrueWhenPresenceAppearsInTime", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{AppearAfter: 2 * poll})
		s := newTestSession(t, fake)
		assert.True(t, s.Exists(ctx, buy, Within(10*poll)))
	})

	t.Run("FalseWhenAbsent", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		start := time.Now()
		assert.False(t, s.Exists(ctx, buy, Within(3*poll)))
		assert.GreaterOrEqual(t, time.Since(start), 3*poll)
	})

	t.Run("ZeroTimeoutChecksOnce", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{AppearAfter: time.Hour})
		s := newTestSession(t, fake)
		assert.False(t, s.Exists(ctx, buy, Within(0)))
		assert.Equal(t, 1, fake.Calls("find:css=#buy"))
	})

	t.Run("NeverFailsOnBrokenInput", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		assert.False(t, s.Exists(ctx, browser.Locator{}))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.False(t, s.Exists(cctx, buy))
	})
}

func TestReads(t *testing.T) {
	ctx := context.Background()

	t.Run("TextAndAttribute", func(t *testing.T) {
		fake := browsertest.New()
		link := browser.XPath("//a[@id='apply']")
		fake.Add(link, &browsertest.Element{Text: "Apply", Attrs: map[string]string{"href": "https://jobs.lever.co/x"}})
		s := newTestSession(t, fake)

		text, err := s.Text(ctx, link)
		require.NoError(t, err)
		assert.Equal(t, "Apply", text)

		href, ok, err := s.Attribute(ctx, link, "href")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "https://jobs.lever.co/x", href)

		_, ok, err = s.Attribute(ctx, link, "target")
		require.NoError(t, err)
		assert.False(t, ok, "a missing attribute is not an error")
	})

	t.Run("StaleReadIsRelocatedAndRetried", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{Text: "Buy now", StaleReads: 2})
		s := newTestSession(t, fake)

		text, err := s.Text(ctx, buy)
		require.NoError(t, err)
		assert.Equal(t, "Buy now", text)
		assert.Equal(t, 3, fake.Calls("read:css=#buy"))
		assert.Equal(t, int64(2), s.Retries())
	})

	t.Run("PersistentStaleReadKeepsLastFailure", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{Text: "Buy now", StaleReads: 10})
		s := newTestSession(t, fake, func(o *Options) { o.MaxRetries = 2 })

		_, err := s.Text(ctx, buy)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrStaleReference)
		assert.Equal(t, 3, fake.Calls("read:css=#buy"))

		var ex *browser.ExhaustedError
		require.ErrorAs(t, err, &ex)
		assert.Equal(t, 3, ex.Attempts)
		assert.Equal(t, "text css=#buy", ex.Op)
		var be *browser.Error
		require.ErrorAs(t, ex.Err, &be)
		assert.Equal(t, "read", be.Op, "the client's failure reaches the caller as it was returned")
	})
}

func TestClick(t *testing.T) {
	ctx := context.Background()

	t.Run("StaleTwiceThenSucceeds", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, nil).Fail(browser.ActionClick,
			browsertest.Stale("css=#buy"), browsertest.Stale("css=#buy"))
		s := newTestSession(t, fake, func(o *Options) { o.MaxRetries = 3 })

		require.NoError(t, s.Click(ctx, buy))
		assert.Equal(t, 3, fake.Calls("click:css=#buy"))
		assert.Equal(t, int64(2), s.Retries())
		assert.Equal(t, 0, fake.Calls("script-click:css=#buy"), "staleness must not trigger the script fallback")
	})

	t.Run("InterceptedFallsBackWithoutConsumingRetry", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, nil).Fail(browser.ActionClick, browsertest.Intercepted("css=#buy", "div#cookie-overlay"))
		s := newTestSession(t, fake)

		require.NoError(t, s.Click(ctx, buy))
		assert.Equal(t, int64(0), s.Retries())
		assert.Equal(t, []string{"script-click:css=#buy"}, fake.Actions())
	})

	t.Run("FailedFallbackConsumesRetry", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, nil).
			Fail(browser.ActionClick, browsertest.Intercepted("css=#buy", "div.modal")).
			Fail(browser.ActionScriptClick, browsertest.Stale("css=#buy"))
		s := newTestSession(t, fake)

		require.NoError(t, s.Click(ctx, buy))
		assert.Equal(t, int64(1), s.Retries())
		assert.Equal(t, []string{"click:css=#buy"}, fake.Actions())
	})

	t.Run("PersistentInterceptionExhaustsBudget", func(t *testing.T) {
		fake := browsertest.New()
		el := fake.Add(buy, nil)
		for i := 0; i < 4; i++ {
			el.Fail(browser.ActionClick, browsertest.Intercepted("css=#buy", "div.modal"))
			el.Fail(browser.ActionScriptClick, browsertest.Intercepted("css=#buy", "div.modal"))
		}
		s := newTestSession(t, fake, func(o *Options) { o.MaxRetries = 3 })

		err := s.Click(ctx, buy)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrInterceptedAction)
		var ex *browser.ExhaustedError
		require.ErrorAs(t, err, &ex)
		assert.Equal(t, 4, ex.Attempts)
		var be *browser.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "click", be.Op, "the last failure is kept whole")
		assert.Equal(t, 4, fake.Calls("click:css=#buy"))
		assert.Equal(t, 4, fake.Calls("script-click:css=#buy"))
		assert.Contains(t, err.Error(), "gave up after 4 attempts")
	})

	t.Run("NeverClickableIsTimeoutNotRetried", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{Disabled: true})
		s := newTestSession(t, fake)

		err := s.Click(ctx, buy, Within(3*poll))
		assert.ErrorIs(t, err, browser.ErrTimeout)
		assert.Equal(t, 0, fake.Calls("click:css=#buy"))
		assert.Equal(t, int64(0), s.Retries())
	})

	t.Run("OtherActionFailuresPropagate", func(t *testing.T) {
		fake := browsertest.New()
		boom := errors.New("target crashed")
		fake.Add(buy, nil).Fail(browser.ActionClick, boom)
		s := newTestSession(t, fake)

		err := s.Click(ctx, buy)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, fake.Calls("click:css=#buy"))
		assert.Equal(t, 0, fake.Calls("script-click:css=#buy"))
	})

	t.Run("ClickScript", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{Hidden: true})
		s := newTestSession(t, fake)

		require.NoError(t, s.ClickScript(ctx, buy))
		assert.Equal(t, []string{"script-click:css=#buy"}, fake.Actions())
	})
}

func TestType(t *testing.T) {
	ctx := context.Background()
	field := browser.ID("search")

	t.Run("ClearsThenTypes", func(t *testing.T) {
		fake := browsertest.New()
		el := fake.Add(field, &browsertest.Element{Value: "old"})
		s := newTestSession(t, fake)

		require.NoError(t, s.Type(ctx, field, "qa"))
		assert.Equal(t, "qa", el.Value)
		assert.Equal(t, []string{"clear:id=search", "type:id=search"}, fake.Actions())
	})

	t.Run("KeepExistingAppends", func(t *testing.T) {
		fake := browsertest.New()
		el := fake.Add(field, &browsertest.Element{Value: "quality "})
		s := newTestSession(t, fake)

		require.NoError(t, s.Type(ctx, field, "assurance", KeepExisting()))
		assert.Equal(t, "quality assurance", el.Value)
	})

	t.Run("NeverVisibleTimesOutWithSingleAttempt", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(field, &browsertest.Element{Hidden: true})
		s := newTestSession(t, fake)

		timeout := 5 * poll
		start := time.Now()
		err := s.Type(ctx, field, "qa", Within(timeout))
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrTimeout)
		assert.GreaterOrEqual(t, elapsed, timeout)
		assert.Less(t, elapsed, timeout+poll+slack, "a timeout must not be retried")
		assert.Equal(t, int64(0), s.Retries())
		assert.Equal(t, 0, fake.Calls("type:id=search"))
		assert.Contains(t, err.Error(), "visible id=search")
	})

	t.Run("StaleIsRetried", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(field, nil).Fail(browser.ActionType, browsertest.Stale("id=search"))
		s := newTestSession(t, fake)

		require.NoError(t, s.Type(ctx, field, "qa"))
		assert.Equal(t, int64(1), s.Retries())
		assert.Equal(t, 2, fake.Calls("clear:id=search"), "the whole unit is re-executed")
	})

	t.Run("InterceptionIsNotRetried", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(field, nil).Fail(browser.ActionType, browsertest.Intercepted("id=search", "div.modal"))
		s := newTestSession(t, fake)

		err := s.Type(ctx, field, "qa")
		assert.ErrorIs(t, err, browser.ErrInterceptedAction)
		assert.Equal(t, int64(0), s.Retries())
	})
}

func TestHoverAndScroll(t *testing.T) {
	ctx := context.Background()
	menu := browser.XPath("//nav//a[normalize-space()='Company']")

	fake := browsertest.New()
	fake.Add(menu, nil).Fail(browser.ActionHover, browsertest.Stale("menu"))
	s := newTestSession(t, fake)

	err := s.Hover(ctx, menu)
	assert.ErrorIs(t, err, browser.ErrStaleReference, "hover is not retry-wrapped")
	assert.Equal(t, 1, fake.Calls("hover:"+menu.String()))

	require.NoError(t, s.Hover(ctx, menu))
	require.NoError(t, s.ScrollIntoView(ctx, menu))
	assert.Equal(t, []string{"hover:" + menu.String(), "scroll-into-view:" + menu.String()}, fake.Actions())
}

func TestExplicitWaits(t *testing.T) {
	ctx := context.Background()

	t.Run("WaitVisible", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{VisibleAfter: 2 * poll})
		s := newTestSession(t, fake)

		h, err := s.WaitVisible(ctx, buy)
		require.NoError(t, err)
		assert.NotNil(t, h)
	})

	t.Run("WaitClickableTimesOut", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{Disabled: true})
		s := newTestSession(t, fake)

		_, err := s.WaitClickable(ctx, buy, Within(2*poll))
		assert.ErrorIs(t, err, browser.ErrTimeout)
	})

	t.Run("AbsentIsNotFoundPresentButHiddenIsTimeout", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		_, err := s.WaitVisible(ctx, buy, Within(2*poll))
		assert.ErrorIs(t, err, browser.ErrNotFound)
		assert.Contains(t, err.Error(), "visible css=#buy")

		fake := browsertest.New()
		fake.Add(buy, &browsertest.Element{Hidden: true})
		s = newTestSession(t, fake)
		_, err = s.WaitVisible(ctx, buy, Within(2*poll))
		assert.ErrorIs(t, err, browser.ErrTimeout)
		assert.NotErrorIs(t, err, browser.ErrNotFound)
	})

	t.Run("WaitForPageLoad", func(t *testing.T) {
		fake := browsertest.New()
		states := []string{"loading", "interactive", "complete"}
		fake.EvaluateFunc = func(src string, args []any) (any, error) {
			s := states[0]
			if len(states) > 1 {
				states = states[1:]
			}
			return s, nil
		}
		s := newTestSession(t, fake)

		require.NoError(t, s.WaitForPageLoad(ctx))
		assert.Equal(t, 3, fake.Calls("evaluate"))
	})

	t.Run("WaitForPageLoadTimesOut", func(t *testing.T) {
		fake := browsertest.New()
		fake.EvaluateFunc = func(string, []any) (any, error) { return "loading", nil }
		s := newTestSession(t, fake)

		err := s.WaitForPageLoad(ctx, Within(2*poll))
		assert.ErrorIs(t, err, browser.ErrTimeout)
		assert.Contains(t, err.Error(), "document.readyState")
	})
}

func TestPageOperations(t *testing.T) {
	ctx := context.Background()
	fake := browsertest.New()
	s := newTestSession(t, fake)

	require.NoError(t, s.Navigate(ctx, "https://useinsider.com/"))
	fake.SetPage("https://useinsider.com/", "Insider - Growth Management Platform")
	u, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://useinsider.com/", u)
	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Contains(t, title, "Insider")

	time.AfterFunc(2*poll, func() { fake.OpenWindow("https://jobs.lever.co/useinsider/123") })
	require.NoError(t, s.SwitchToNewWindow(ctx))
	u, _ = s.CurrentURL(ctx)
	assert.Contains(t, u, "jobs.lever.co")

	require.NoError(t, s.CloseWindowAndSwitchBack(ctx))
	u, _ = s.CurrentURL(ctx)
	assert.Equal(t, "https://useinsider.com/", u)

	err = s.SwitchToNewWindow(ctx, Within(2*poll))
	assert.ErrorIs(t, err, browser.ErrTimeout, "no window was opened since the last switch")

	png, err := s.Screenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}

// bareClient hides the optional capabilities of the fake.
type bareClient struct{ browser.Client }

func TestMissingCapabilities(t *testing.T) {
	s := newTestSession(t, bareClient{browsertest.New()})

	err := s.SwitchToNewWindow(context.Background())
	assert.ErrorIs(t, err, browser.ErrUnsupportedConfiguration)
	_, err = s.Screenshot(context.Background())
	assert.ErrorIs(t, err, browser.ErrUnsupportedConfiguration)
}

func TestClose(t *testing.T) {
	fake := browsertest.New()
	s, err := New(fake, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Close(ctx), "close must run under a cancelled context")
	require.NoError(t, s.Close(context.Background()))
	assert.True(t, fake.Closed())
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	fa, fb := browsertest.New(), browsertest.New()
	fa.Add(buy, nil).Fail(browser.ActionClick, browsertest.Stale("a"), browsertest.Stale("a"))
	fb.Add(buy, nil)
	a, b := newTestSession(t, fa), newTestSession(t, fb)

	done := make(chan error, 2)
	go func() { done <- a.Click(ctx, buy) }()
	go func() { done <- b.Click(ctx, buy) }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	assert.Equal(t, int64(2), a.Retries())
	assert.Equal(t, int64(0), b.Retries())
}

func TestSelectByText(t *testing.T) {
	ctx := context.Background()
	location := browser.ID("location")

	// selectAfter answers the select script with "pending" for the first n
	// polls, then with final.
	selectAfter := func(n int, final string) func(string, []any) (any, error) {
		polls := 0
		return func(src string, args []any) (any, error) {
			if len(args) != 3 {
				return "complete", nil
			}
			polls++
			if polls <= n {
				return "pending", nil
			}
			return final, nil
		}
	}

	t.Run("OptionsPopulateLate", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(location, nil)
		var gotArgs []any
		inner := selectAfter(2, "selected")
		fake.EvaluateFunc = func(src string, args []any) (any, error) {
			gotArgs = args
			return inner(src, args)
		}
		s := newTestSession(t, fake)

		require.NoError(t, s.SelectByText(ctx, location, "Istanbul, Turkey"))
		assert.Equal(t, []any{"css", `[id="location"]`, "Istanbul, Turkey"}, gotArgs)
		assert.Equal(t, 3, fake.Calls("evaluate"))
	})

	t.Run("NotASelect", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(location, nil)
		fake.EvaluateFunc = selectAfter(0, "not-select")
		s := newTestSession(t, fake)

		err := s.SelectByText(ctx, location, "Istanbul, Turkey")
		assert.ErrorIs(t, err, ErrNotSelect)
		assert.Equal(t, 1, fake.Calls("evaluate"))
	})

	t.Run("OptionNeverAppears", func(t *testing.T) {
		fake := browsertest.New()
		fake.Add(location, nil)
		fake.EvaluateFunc = selectAfter(1000, "selected")
		s := newTestSession(t, fake)

		err := s.SelectByText(ctx, location, "Atlantis", Within(5*poll))
		assert.ErrorIs(t, err, browser.ErrTimeout)
		assert.Contains(t, err.Error(), `option "Atlantis"`)
	})

	t.Run("SelectMissing", func(t *testing.T) {
		s := newTestSession(t, browsertest.New())
		err := s.SelectByText(ctx, location, "Istanbul, Turkey", Within(3*poll))
		assert.ErrorIs(t, err, browser.ErrNotFound)
	})
}
