package golestan

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultExportRetries    = 3
	defaultExportRetryDelay = time.Second * 2
)

type ExportOptions struct {
	// Retries bounds additional attempts after an empty capture.
	// Default 3.
	Retries    int
	RetryDelay time.Duration
}

func (o ExportOptions) withDefaults() ExportOptions {
	if o.Retries <= 0 {
		o.Retries = DefaultExportRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultExportRetryDelay
	}
	return o
}

// ExportCapture triggers the report export and retrieves whatever the
// portal delivers it through: a redirect to the rendered payload, or a
// data blob inlined in the response body.
type ExportCapture struct {
	transport Transport
	store     *TokenStore
	opts      ExportOptions
}

func NewExportCapture(transport Transport, store *TokenStore, opts ExportOptions) *ExportCapture {
	return &ExportCapture{
		transport: transport,
		store:     store,
		opts:      opts.withDefaults(),
	}
}

// Capture returns the exported payload and the number of retries it
// took. An empty payload is never returned: exhausting the retry
// budget yields ExportEmptyError so zero courses can't be mistaken for
// a valid result.
func (e *ExportCapture) Capture(ctx context.Context) ([]byte, int, error) {
	ctx, span := tracer.Start(ctx, "export:Capture")
	defer span.End()

	retries := 0
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if attempt > 0 {
			retries++
			if err := sleepJitter(ctx, e.opts.RetryDelay); err != nil {
				return nil, retries, err
			}
			if err := e.refresh(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "state refresh before retry failed")
				return nil, retries, err
			}
		}

		payload, err := e.captureOnce(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "export attempt failed")
			return nil, retries, err
		}
		if len(payload) > 0 {
			span.SetAttributes(
				attribute.Int("retries", retries),
				attribute.Int("payload_size", len(payload)),
			)
			return payload, retries, nil
		}
		slog.WarnContext(ctx, "export produced an empty payload", "attempt", attempt+1)
	}

	err := ExportEmptyError{Attempts: e.opts.Retries + 1}
	span.SetStatus(codes.Error, err.Error())
	return nil, retries, err
}

func (e *ExportCapture) captureOnce(ctx context.Context) ([]byte, error) {
	res, err := exchange(ctx, e.transport, e.store, http.MethodPost, reportPath, postback(controlExport, ""))
	if err != nil {
		return nil, err
	}

	// redirect sink: the rendered payload lives at the target
	if res.Location != "" {
		t := e.store.Current()
		payload, err := e.transport.Exchange(ctx, Request{
			Method:  http.MethodGet,
			Path:    res.Location,
			Cookies: t.Cookies,
			Referer: reportPath,
		})
		if err != nil {
			return nil, err
		}
		return payload.Body, nil
	}

	return inlinePayload(res.Body), nil
}

var blobRegex = regexp.MustCompile(`(?s)<rows>.*</rows>`)

// inlinePayload finds the inline export sink in a response body, or
// nil when the body carries neither sink shape.
func inlinePayload(body []byte) []byte {
	if m := blobRegex.Find(body); m != nil {
		return m
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	if doc.Find("table#ReportTable tr").Length() > 0 {
		return body
	}
	return nil
}

// refresh re-verifies the export control is still clickable and swaps
// in fresh tokens before another attempt.
func (e *ExportCapture) refresh(ctx context.Context) error {
	res, err := exchange(ctx, e.transport, e.store, http.MethodGet, reportPath, nil)
	if err != nil {
		return err
	}
	fields, err := ExtractFields(res.Body)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return err
	}
	if !hasControl(controlExport)(doc) {
		return errUnexpectedPage
	}
	e.store.Replace(nextTokens(e.store.Current(), fields, res.Cookies))
	return nil
}
