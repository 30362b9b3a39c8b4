// Package captcha is an HTTP client for an external OCR service that
// reads portal captcha images. It satisfies golestan.Solver; retry and
// refresh policy stay with the authenticator, not here.
package captcha

import (
	"context"
	"time"

	"entekhab-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("captcha")

type ClientOptions struct {
	// Endpoint receives the raw image bytes and answers with the
	// recognized text in the body.
	Endpoint string
	// ExpectedLength is the fixed answer length the portal issues.
	// Responses of any other length are reported as not ok.
	ExpectedLength int
}

type Client struct {
	http *resty.Client
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	client := resty.New()
	client.SetTimeout(time.Second * 15)

	telemetry.InstrumentResty(client, "captcha/http")

	return &Client{http: client, opts: opts}
}

func (c *Client) Solve(ctx context.Context, image []byte) (string, bool) {
	ctx, span := tracer.Start(ctx, "client:Solve")
	defer span.End()
	span.SetAttributes(attribute.Int("image_size", len(image)))

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/octet-stream").
		SetBody(image).
		Post(c.opts.Endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr request failed")
		return "", false
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "ocr service refused the image")
		return "", false
	}

	guess := string(res.Body())
	if c.opts.ExpectedLength > 0 && len(guess) != c.opts.ExpectedLength {
		span.SetStatus(codes.Error, "guess has the wrong length")
		return guess, false
	}
	return guess, true
}
