package golestan

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"entekhab-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// StepForm builds the POST body of a step from the tokens current at
// submission time.
type StepForm func(t Tokens) url.Values

// StepVerify reports whether the document is the page the step was
// expected to land on.
type StepVerify func(doc *goquery.Document) bool

// Step is one logical page transition on the fixed path from the
// post-login landing page to the report screen.
type Step struct {
	Name string
	Path string
	Form StepForm
	// Verify runs inside a poll loop bounded by VerifyTimeout, since
	// the server sometimes serves a "please wait" interstitial before
	// the real page.
	Verify        StepVerify
	VerifyTimeout time.Duration
}

const (
	DefaultStepRetries  = 3
	defaultPollInterval = time.Millisecond * 1500
	defaultRetryDelay   = time.Second * 2
)

type NavigateOptions struct {
	// StepRetries bounds how many times a failed step is redone as a
	// whole. Resuming a step mid-way desynchronizes the sequence
	// counter, so partial retry is not offered. Default 3.
	StepRetries  int
	PollInterval time.Duration
	RetryDelay   time.Duration
}

func (o NavigateOptions) withDefaults() NavigateOptions {
	if o.StepRetries <= 0 {
		o.StepRetries = DefaultStepRetries
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	return o
}

// Navigator walks an ordered list of steps, keeping the token store in
// sync with every response along the way.
type Navigator struct {
	transport Transport
	store     *TokenStore
	opts      NavigateOptions
}

func NewNavigator(transport Transport, store *TokenStore, opts NavigateOptions) *Navigator {
	return &Navigator{
		transport: transport,
		store:     store,
		opts:      opts.withDefaults(),
	}
}

func (n *Navigator) Run(ctx context.Context, steps []Step) error {
	ctx, span := tracer.Start(ctx, "navigator:Run")
	defer span.End()

	for _, step := range steps {
		err := n.runStep(ctx, step)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "navigation failed")
			return err
		}
	}
	return nil
}

func (n *Navigator) runStep(ctx context.Context, step Step) error {
	ctx, span := tracer.Start(ctx, "navigator:step:"+step.Name)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < n.opts.StepRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			if err := sleepJitter(ctx, n.opts.RetryDelay); err != nil {
				return err
			}
		}

		lastErr = n.stepOnce(ctx, step)
		if lastErr == nil {
			return nil
		}
		slog.WarnContext(ctx, "navigation step failed",
			"step", step.Name, "attempt", attempt+1, "err", lastErr)
	}

	err := &VerifyTimeoutError{
		Step:     step.Name,
		Attempts: n.opts.StepRetries,
		Err:      lastErr,
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "step retries exhausted")
	return err
}

// stepOnce performs one whole step: refresh tokens with a GET, submit
// the step's postback, then poll until the landing page verifies.
func (n *Navigator) stepOnce(ctx context.Context, step Step) error {
	res, err := exchange(ctx, n.transport, n.store, http.MethodGet, step.Path, nil)
	if err != nil {
		return err
	}
	fields, err := ExtractFields(res.Body)
	if err != nil {
		return err
	}
	n.store.Replace(nextTokens(n.store.Current(), fields, res.Cookies))

	res, err = exchange(ctx, n.transport, n.store, http.MethodPost, step.Path, step.Form(n.store.Current()))
	if err != nil {
		return err
	}

	deadline := time.Now().Add(step.VerifyTimeout)
	for {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
		if err != nil {
			return err
		}

		if step.Verify(doc) {
			fields, err := ExtractFields(res.Body)
			if err != nil {
				return err
			}
			n.store.Replace(nextTokens(n.store.Current(), fields, res.Cookies))
			return nil
		}
		if !isProcessing(doc) {
			return errUnexpectedPage
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}

		if err := sleepJitter(ctx, n.opts.PollInterval); err != nil {
			return err
		}
		res, err = exchange(ctx, n.transport, n.store, http.MethodGet, step.Path, nil)
		if err != nil {
			return err
		}
	}
}

const markerProcessing = "لطفا صبر کنید"

// isProcessing recognizes the interstitial page the report engine
// serves while it is still rendering.
func isProcessing(doc *goquery.Document) bool {
	if doc.Find("#ProgressPanel").Length() > 0 {
		return true
	}
	text := textutil.NormalizeArabicLetters(doc.Text())
	return strings.Contains(text, markerProcessing)
}

// StatusFilter selects which course set the offering report covers.
type StatusFilter string

const (
	StatusAvailable   StatusFilter = "available"
	StatusUnavailable StatusFilter = "unavailable"
)

func (f StatusFilter) code() string {
	if f == StatusUnavailable {
		return "0"
	}
	return "1"
}

// Form control names on the menu and report pages.
const (
	controlReportNumber = "ReportNumberTextBox"
	controlShowReport   = "ShowReportButton"
	controlCourseStatus = "CourseStatusTextBox"
	controlApplyFilter  = "ApplyFilterButton"
	controlExport       = "ExportButton"
	controlMenuTree     = "UserMenuTree"

	courseOfferingReport = "102"
)

func hasControl(name string) StepVerify {
	return func(doc *goquery.Document) bool {
		return doc.Find("input[name="+name+"]").Length() > 0
	}
}

// DefaultSteps is the fixed path from the post-login landing page to a
// filtered course offering report ready for export.
func DefaultSteps(filter StatusFilter) []Step {
	return []Step{
		{
			Name:          "user-menu",
			Path:          menuPath,
			Form:          func(Tokens) url.Values { return postback(controlMenuTree, "reports") },
			Verify:        hasControl(controlReportNumber),
			VerifyTimeout: time.Second * 30,
		},
		{
			Name: "open-report",
			Path: menuPath,
			Form: func(Tokens) url.Values {
				form := postback(controlShowReport, "")
				form.Set(controlReportNumber, courseOfferingReport)
				return form
			},
			Verify: hasControl(controlCourseStatus),
			// the report engine takes its time spinning up
			VerifyTimeout: time.Second * 120,
		},
		{
			Name: "apply-filter",
			Path: reportPath,
			Form: func(Tokens) url.Values {
				form := postback(controlApplyFilter, "")
				form.Set(controlCourseStatus, filter.code())
				return form
			},
			Verify:        hasControl(controlExport),
			VerifyTimeout: time.Second * 60,
		},
	}
}
