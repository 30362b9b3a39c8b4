package golestan

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Options struct {
	BaseUrl string
	Solver  Solver
	// Transport defaults to an HTTP transport against BaseUrl. Swap in
	// a different implementation to drive the portal some other way.
	Transport Transport
	Auth      AuthOptions
	Navigate  NavigateOptions
	Export    ExportOptions
}

// Client is the portal session client. One FetchCourses call is one
// complete session: login, navigation, export, logout. Calls are
// strictly sequential internally, but independent Clients may run
// concurrently since they share nothing.
type Client struct {
	opts      Options
	transport Transport
}

func NewClient(opts Options) (*Client, error) {
	if opts.Solver == nil {
		return nil, fmt.Errorf("a captcha solver is required")
	}
	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = NewHTTPTransport(opts.BaseUrl)
		if err != nil {
			return nil, err
		}
	}
	return &Client{opts: opts, transport: transport}, nil
}

// CourseList is the outcome of one successful fetch.
type CourseList struct {
	Courses   []Course
	ByFaculty map[string]map[string][]Course
	ByCode    map[string]Course
	// ParseWarnings counts malformed rows that were skipped.
	ParseWarnings int
}

// FetchCourses logs in, walks to the course offering report, exports
// it, and normalizes the payload. Token state lives and dies with the
// call; there is no session reuse, a fresh login happens every time.
func (c *Client) FetchCourses(ctx context.Context, creds Credentials, filter StatusFilter) (*CourseList, error) {
	ctx, span := tracer.Start(ctx, "client:FetchCourses")
	defer span.End()
	span.SetAttributes(attribute.String("filter", string(filter)))

	store := NewTokenStore()

	auth := NewAuthenticator(c.transport, store, c.opts.Solver, c.opts.Auth)
	err := auth.Login(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, fmt.Errorf("login: %w", err)
	}
	defer func() {
		err := auth.Logout(context.WithoutCancel(ctx))
		if err != nil {
			slog.WarnContext(ctx, "logout failed", "err", err)
		}
	}()

	nav := NewNavigator(c.transport, store, c.opts.Navigate)
	err = nav.Run(ctx, DefaultSteps(filter))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		return nil, fmt.Errorf("navigate: %w", err)
	}

	export := NewExportCapture(c.transport, store, c.opts.Export)
	payload, retries, err := export.Capture(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return nil, fmt.Errorf("export: %w", err)
	}
	if retries > 0 {
		slog.InfoContext(ctx, "export needed retries", "retries", retries)
	}

	result, err := Parse(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parse: %w", err)
	}
	if result.Skipped > 0 {
		slog.WarnContext(ctx, "skipped malformed rows", "count", result.Skipped)
	}
	span.SetAttributes(
		attribute.Int("courses", len(result.Courses)),
		attribute.Int("skipped_rows", result.Skipped),
	)

	return &CourseList{
		Courses:       result.Courses,
		ByFaculty:     result.ByFaculty,
		ByCode:        result.ByCode,
		ParseWarnings: result.Skipped,
	}, nil
}
