package golestan

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"entekhab-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Credentials struct {
	AccountId string
	Password  string
}

// Solver turns a captcha image into a candidate answer. ok reports
// whether the guess is usable; the authenticator still validates the
// length before submitting, and owns all retry behavior.
type Solver interface {
	Solve(ctx context.Context, image []byte) (text string, ok bool)
}

const (
	DefaultLoginAttempts = 5
	DefaultCaptchaLength = 5

	defaultCaptchaRefreshLimit = 4
	captchaRefreshDelay        = time.Millisecond * 500
)

type AuthOptions struct {
	// MaxAttempts bounds both submitted-and-rejected captcha rounds
	// and consecutive unusable solver guesses. Default 5.
	MaxAttempts int
	// CaptchaLength is the fixed answer length the portal issues.
	// Guesses of any other length are never submitted. Default 5.
	CaptchaLength int
	// RefreshLimit bounds how many times a captcha is refetched while
	// waiting for the server to issue a different image. Default 4.
	RefreshLimit int
	// RefreshDelay is the pause between those refetches.
	RefreshDelay time.Duration
}

func (o AuthOptions) withDefaults() AuthOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultLoginAttempts
	}
	if o.CaptchaLength <= 0 {
		o.CaptchaLength = DefaultCaptchaLength
	}
	if o.RefreshLimit <= 0 {
		o.RefreshLimit = defaultCaptchaRefreshLimit
	}
	if o.RefreshDelay <= 0 {
		o.RefreshDelay = captchaRefreshDelay
	}
	return o
}

// Form control names on the login page.
const (
	controlAccountId = "UserTextBox"
	controlPassword  = "PasswordTextBox"
	controlCaptcha   = "CaptchaTextBox"
	controlLogin     = "LoginButton"
)

// Outcome markers in the login response. The portal emits both Arabic
// and Persian letter forms over time, so matching happens on
// letter-normalized text.
const (
	markerCaptchaRejected     = "کد امنیتی وارد شده صحیح نمی باشد"
	markerCredentialsRejected = "شناسه کاربری یا گذرواژه اشتباه است"
	markerUserMenu            = "منوی کاربر"
)

type loginOutcome int

const (
	outcomeUnknown loginOutcome = iota
	outcomeAuthenticated
	outcomeCaptchaRejected
	outcomeCredentialsRejected
)

// Authenticator drives the login flow to an authenticated session or a
// terminal failure.
type Authenticator struct {
	transport Transport
	store     *TokenStore
	solver    Solver
	opts      AuthOptions
}

func NewAuthenticator(transport Transport, store *TokenStore, solver Solver, opts AuthOptions) *Authenticator {
	return &Authenticator{
		transport: transport,
		store:     store,
		solver:    solver,
		opts:      opts.withDefaults(),
	}
}

func (a *Authenticator) Login(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "authenticator:Login")
	defer span.End()

	err := a.loadLoginPage(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load login page")
		return err
	}

	var lastImage []byte
	loginAttempts := 0
	solveFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		image, err := a.freshCaptcha(ctx, lastImage)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to obtain a fresh captcha")
			return err
		}
		lastImage = image

		guess, ok := a.solver.Solve(ctx, image)
		if !ok || len(guess) != a.opts.CaptchaLength {
			// never submit a malformed guess; it cannot succeed and
			// burns a server-side login attempt
			solveFailures++
			slog.DebugContext(ctx, "unusable captcha guess",
				"ok", ok, "len", len(guess), "failures", solveFailures)
			if solveFailures >= a.opts.MaxAttempts {
				span.SetStatus(codes.Error, "solver never produced a usable guess")
				return AuthExhaustedError{Attempts: solveFailures}
			}
			continue
		}

		outcome, message, err := a.submit(ctx, creds, guess)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login submission failed")
			return err
		}

		switch outcome {
		case outcomeAuthenticated:
			span.SetAttributes(attribute.Int("attempts", loginAttempts+1))
			return nil
		case outcomeCredentialsRejected:
			// explicitly refused credentials never trigger another
			// captcha round
			span.SetStatus(codes.Error, ErrCredentialsRejected.Error())
			return ErrCredentialsRejected
		case outcomeCaptchaRejected:
			loginAttempts++
			slog.DebugContext(ctx, "captcha rejected", "attempt", loginAttempts)
			if loginAttempts >= a.opts.MaxAttempts {
				span.SetStatus(codes.Error, "captcha attempts exhausted")
				return AuthExhaustedError{Attempts: loginAttempts, Err: ErrCaptchaRejected}
			}
		default:
			span.SetStatus(codes.Error, "unrecognized login response")
			return UnknownAuthError{Message: message}
		}
	}
}

func (a *Authenticator) loadLoginPage(ctx context.Context) error {
	res, err := a.transport.Exchange(ctx, Request{
		Method: http.MethodGet,
		Path:   loginPath,
	})
	if err != nil {
		return err
	}
	fields, err := ExtractFields(res.Body)
	if err != nil {
		return err
	}
	a.store.Replace(nextTokens(a.store.Current(), fields, res.Cookies))
	return nil
}

// freshCaptcha downloads the current captcha image, refetching until
// the server hands out one that differs from previous. Solving an
// image the server already rejected wastes an attempt and makes the
// failure indistinguishable from a solver error.
func (a *Authenticator) freshCaptcha(ctx context.Context, previous []byte) ([]byte, error) {
	for i := 0; i < a.opts.RefreshLimit; i++ {
		image, err := a.fetchCaptcha(ctx)
		if err != nil {
			return nil, err
		}
		if len(previous) == 0 || !bytes.Equal(image, previous) {
			return image, nil
		}
		if err := sleepJitter(ctx, a.opts.RefreshDelay); err != nil {
			return nil, err
		}
	}
	return nil, CaptchaUnchangedError{Refreshes: a.opts.RefreshLimit}
}

func (a *Authenticator) fetchCaptcha(ctx context.Context) ([]byte, error) {
	t := a.store.Current()
	res, err := a.transport.Exchange(ctx, Request{
		Method: http.MethodGet,
		Path:   captchaPath,
		// cache buster; the image endpoint otherwise serves from the
		// browser cache it assumes is in front of it
		Query:   url.Values{"ts": {strconv.FormatInt(time.Now().UnixNano(), 10)}},
		Cookies: t.Cookies,
		Referer: loginPath,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Cookies) > 0 {
		next := t
		next.Cookies = replaceCookies(t.Cookies, res.Cookies)
		a.store.Replace(next)
	}
	return res.Body, nil
}

func (a *Authenticator) submit(ctx context.Context, creds Credentials, guess string) (loginOutcome, string, error) {
	t := a.store.Current()

	form := postback(controlLogin, "")
	form.Set(controlAccountId, creds.AccountId)
	form.Set(controlPassword, creds.Password)
	form.Set(controlCaptcha, guess)

	res, err := a.transport.Exchange(ctx, Request{
		Method:  http.MethodPost,
		Path:    loginPath,
		Form:    tokenForm(t, form),
		Cookies: t.Cookies,
		Referer: loginPath,
	})
	if err != nil {
		return outcomeUnknown, "", err
	}

	// successful logins leave the form through a redirect carrying the
	// session ticket
	if res.Location != "" {
		next := t
		next.Cookies = replaceCookies(t.Cookies, res.Cookies)
		next.Ticket = ticketFromLocation(res.Location)
		next.Seq = 1
		a.store.Replace(next)
		return outcomeAuthenticated, "", nil
	}

	outcome, message := classifyLogin(res.Body)
	switch outcome {
	case outcomeAuthenticated:
		fields, err := ExtractFields(res.Body)
		if err != nil {
			return outcomeUnknown, err.Error(), nil
		}
		next := nextTokens(t, fields, res.Cookies)
		next.Seq = 1
		a.store.Replace(next)
	case outcomeCaptchaRejected:
		// the rejection page still carries the next form generation;
		// resubmitting the old one would be refused outright
		fields, err := ExtractFields(res.Body)
		if err == nil {
			a.store.Replace(nextTokens(t, fields, res.Cookies))
		}
	}
	return outcome, message, nil
}

func classifyLogin(body []byte) (loginOutcome, string) {
	text := textutil.NormalizeArabicLetters(string(body))
	switch {
	case strings.Contains(text, markerCredentialsRejected):
		return outcomeCredentialsRejected, markerCredentialsRejected
	case strings.Contains(text, markerCaptchaRejected):
		return outcomeCaptchaRejected, markerCaptchaRejected
	case strings.Contains(text, markerUserMenu):
		return outcomeAuthenticated, ""
	}
	return outcomeUnknown, pageErrorText(body)
}

// pageErrorText digs a human-readable message out of the portal's
// error label, if there is one.
func pageErrorText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return textutil.CollapseWhitespace(doc.Find("#ErrorLabel").Text())
}

func ticketFromLocation(location string) string {
	link, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return link.Query().Get("tck")
}

// Logout tears the session down server-side. Best effort: the session
// also dies on its own, a failed logout only leaves it lingering.
func (a *Authenticator) Logout(ctx context.Context) error {
	_, err := exchange(ctx, a.transport, a.store, http.MethodGet, logoutPath, nil)
	return err
}
