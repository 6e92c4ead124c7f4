// internal/scenario/careers.go
//
// Package scenario holds the end-to-end workflows run against the site.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/pages"
)

// TitleKeyword must appear in the home page title.
const TitleKeyword = "Insider"

// Criteria is the job search the careers workflow runs.
type Criteria struct {
	Location   string
	Department string
}

// CriteriaFromConfig reads the search criteria from the scenario settings.
func CriteriaFromConfig(cfg config.ScenarioConfig) Criteria {
	return Criteria{Location: cfg.Location, Department: cfg.Department}
}

// Validate rejects criteria the workflow cannot search for.
func (c Criteria) Validate() error {
	if strings.TrimSpace(c.Location) == "" {
		return errors.New("scenario location is required")
	}
	if strings.TrimSpace(c.Department) == "" {
		return errors.New("scenario department is required")
	}
	return nil
}

// city is the part of the location before the first comma.
func (c Criteria) city() string {
	city, _, _ := strings.Cut(c.Location, ",")
	return strings.TrimSpace(city)
}

// Check reports why l does not match the criteria, or nil if it does.
// The title and department must name the department, the location must
// name the city; all comparisons ignore case.
func (c Criteria) Check(l pages.Listing) error {
	dept := strings.ToLower(c.Department)
	var problems []string
	if !strings.Contains(strings.ToLower(l.Title), dept) {
		problems = append(problems, fmt.Sprintf("title %q does not mention %q", l.Title, c.Department))
	}
	if !strings.Contains(strings.ToLower(l.Department), dept) {
		problems = append(problems, fmt.Sprintf("department %q is not %q", l.Department, c.Department))
	}
	if !strings.Contains(strings.ToLower(l.Location), strings.ToLower(c.city())) {
		problems = append(problems, fmt.Sprintf("location %q is not in %q", l.Location, c.Location))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("listing %d: %s", l.Index, strings.Join(problems, "; "))
}

// StepError names the workflow step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %q: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Report is what a successful careers run observed.
type Report struct {
	Title    string
	Listings []pages.Listing
	JobURL   string
}

// Careers is the careers workflow: from the home page through the QA job
// search to a job description on Lever.
type Careers struct {
	driver   pages.Driver
	baseURL  string
	criteria Criteria
	logger   *zap.Logger
	pageOpts []pages.Option
}

// NewCareers prepares the workflow. Page options are handed to every page
// object it creates.
func NewCareers(d pages.Driver, baseURL string, criteria Criteria, logger *zap.Logger, opts ...pages.Option) (*Careers, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Careers{
		driver:   d,
		baseURL:  baseURL,
		criteria: criteria,
		logger:   logger.Named("careers"),
		pageOpts: opts,
	}, nil
}

// Run executes every step in order and stops at the first failure, which
// is returned as a *StepError.
func (c *Careers) Run(ctx context.Context) (*Report, error) {
	home, err := pages.New(c.driver, c.baseURL, c.logger, c.pageOpts...)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	var (
		careers   *pages.Careers
		qa        *pages.QualityAssurancePage
		positions *pages.OpenPositions
		job       *pages.JobDetail
	)

	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"open home page", home.Open},
		{"accept cookies", home.AcceptCookiesIfPresent},
		{"check title", func(ctx context.Context) error {
			title, err := home.Title(ctx)
			if err != nil {
				return err
			}
			report.Title = title
			if !strings.Contains(title, TitleKeyword) {
				return fmt.Errorf("%w: title %q does not contain %q", pages.ErrVerification, title, TitleKeyword)
			}
			return nil
		}},
		{"go to careers", func(ctx context.Context) (err error) {
			careers, err = home.GoToCareers(ctx)
			return err
		}},
		{"verify careers sections", func(ctx context.Context) error {
			return careers.VerifySections(ctx)
		}},
		{"go to quality assurance", func(ctx context.Context) (err error) {
			qa, err = careers.GoToQualityAssurance(ctx)
			return err
		}},
		{"see all jobs", func(ctx context.Context) (err error) {
			positions, err = qa.SeeAllJobs(ctx)
			return err
		}},
		{"filter jobs", func(ctx context.Context) error {
			return positions.SetFilters(ctx, c.criteria.Location, c.criteria.Department)
		}},
		{"verify listings", func(ctx context.Context) error {
			listings, err := positions.Listings(ctx)
			if err != nil {
				return err
			}
			report.Listings = listings
			return c.verify(listings)
		}},
		{"open first job", func(ctx context.Context) (err error) {
			job, err = positions.OpenFirstJob(ctx)
			return err
		}},
		{"verify job on lever", func(ctx context.Context) error {
			if err := job.VerifyOnLever(ctx); err != nil {
				return err
			}
			u, err := c.driver.CurrentURL(ctx)
			report.JobURL = u
			return err
		}},
	}

	for i, step := range steps {
		c.logger.Info("Running step.", zap.Int("step", i+1), zap.String("name", step.name))
		if err := step.run(ctx); err != nil {
			c.logger.Error("Step failed.", zap.String("name", step.name), zap.Error(err))
			return report, &StepError{Step: step.name, Err: err}
		}
	}
	c.logger.Info("Careers workflow passed.",
		zap.Int("listings", len(report.Listings)), zap.String("job_url", report.JobURL))
	return report, nil
}

func (c *Careers) verify(listings []pages.Listing) error {
	if len(listings) == 0 {
		return fmt.Errorf("%w: no %s jobs listed in %s", pages.ErrVerification, c.criteria.Department, c.criteria.Location)
	}
	var errs []error
	for _, l := range listings {
		if err := c.criteria.Check(l); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", pages.ErrVerification, errors.Join(errs...))
	}
	return nil
}
