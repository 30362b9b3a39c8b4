package golestan

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"entekhab-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

// authFake serves the login flow: a form page, an ever-changing
// captcha image, and a scripted sequence of POST outcomes.
type authFake struct {
	*fakeTransport
	captchaServed int
	postOutcomes  []func() Response
	posts         int
}

func newAuthFake(postOutcomes ...func() Response) *authFake {
	fake := &authFake{postOutcomes: postOutcomes}
	fake.fakeTransport = &fakeTransport{handler: fake.handle}
	return fake
}

func (f *authFake) handle(req Request) (Response, error) {
	switch {
	case req.Method == http.MethodGet && req.Path == loginPath:
		return Response{StatusCode: 200, Body: portalPage("login"), Cookies: map[string]string{"session": "s1"}}, nil
	case req.Method == http.MethodGet && req.Path == captchaPath:
		f.captchaServed++
		return Response{StatusCode: 200, Body: []byte(fmt.Sprintf("captcha-%d", f.captchaServed))}, nil
	case req.Method == http.MethodPost && req.Path == loginPath:
		outcome := f.postOutcomes[f.posts]
		if f.posts < len(f.postOutcomes)-1 {
			f.posts++
		}
		return outcome(), nil
	}
	return Response{}, fmt.Errorf("unexpected request %s %s", req.Method, req.Path)
}

func captchaRejectedResponse() Response {
	return Response{StatusCode: 200, Body: portalPage(markerCaptchaRejected)}
}

func credentialsRejectedResponse() Response {
	return Response{StatusCode: 200, Body: portalPage(markerCredentialsRejected)}
}

func authenticatedResponse() Response {
	return Response{StatusCode: 302, Location: "/forms/f0/main.aspx?tck=TK1"}
}

func testCreds() Credentials {
	return Credentials{AccountId: "9912345", Password: "hunter2"}
}

func TestLoginSuccessAfterCaptchaRetry(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/golestan")
	defer cleanup()

	fake := newAuthFake(captchaRejectedResponse, authenticatedResponse)
	store := NewTokenStore()
	solver := &stubSolver{guess: "12345", ok: true}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	err := auth.Login(context.Background(), testCreds())
	require.NoError(t, err)

	tokens := store.Current()
	require.Equal(t, "TK1", tokens.Ticket)
	require.Equal(t, 1, tokens.Seq)
	require.Equal(t, 2, fake.countPosts(loginPath))
	// the second round must solve a freshly issued image, not the one
	// the server already rejected
	require.GreaterOrEqual(t, fake.captchaServed, 2)
}

func TestSolverNeverUsableTerminatesAtCeiling(t *testing.T) {
	fake := newAuthFake(authenticatedResponse)
	store := NewTokenStore()
	solver := &stubSolver{guess: "", ok: false}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	err := auth.Login(context.Background(), testCreds())

	var exhausted AuthExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, DefaultLoginAttempts, exhausted.Attempts)
	require.Equal(t, DefaultLoginAttempts, solver.calls)
	// unusable guesses are never submitted
	require.Equal(t, 0, fake.countPosts(loginPath))
}

func TestWrongLengthGuessNeverSubmitted(t *testing.T) {
	fake := newAuthFake(authenticatedResponse)
	store := NewTokenStore()
	solver := &stubSolver{guess: "123", ok: true}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	err := auth.Login(context.Background(), testCreds())

	var exhausted AuthExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 0, fake.countPosts(loginPath))
}

func TestCredentialsRejectedIsTerminal(t *testing.T) {
	fake := newAuthFake(credentialsRejectedResponse)
	store := NewTokenStore()
	solver := &stubSolver{guess: "12345", ok: true}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	err := auth.Login(context.Background(), testCreds())
	require.ErrorIs(t, err, ErrCredentialsRejected)

	// refused credentials must not burn further captcha rounds
	require.Equal(t, 1, solver.calls)
	require.Equal(t, 1, fake.countPosts(loginPath))
}

func TestCaptchaAttemptCeiling(t *testing.T) {
	fake := newAuthFake(captchaRejectedResponse)
	store := NewTokenStore()
	solver := &stubSolver{guess: "12345", ok: true}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	err := auth.Login(context.Background(), testCreds())

	var exhausted AuthExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, DefaultLoginAttempts, exhausted.Attempts)
	require.Equal(t, DefaultLoginAttempts, fake.countPosts(loginPath))
	// the exhaustion names what kept failing
	require.ErrorIs(t, err, ErrCaptchaRejected)
}

func TestStaleCaptchaImageIsReported(t *testing.T) {
	// the portal never rotates the image, so the retry round can never
	// solve anything the server hasn't already rejected
	fake := &fakeTransport{}
	fake.handler = func(req Request) (Response, error) {
		switch {
		case req.Method == http.MethodGet && req.Path == loginPath:
			return Response{StatusCode: 200, Body: portalPage("login")}, nil
		case req.Method == http.MethodGet && req.Path == captchaPath:
			return Response{StatusCode: 200, Body: []byte("stuck-image")}, nil
		}
		return captchaRejectedResponse(), nil
	}
	store := NewTokenStore()
	solver := &stubSolver{guess: "12345", ok: true}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	err := auth.Login(context.Background(), testCreds())

	var stale CaptchaUnchangedError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, defaultCaptchaRefreshLimit, stale.Refreshes)
}

func TestLoginCancellation(t *testing.T) {
	fake := newAuthFake(captchaRejectedResponse)
	store := NewTokenStore()
	solver := &stubSolver{guess: "12345", ok: true}
	auth := NewAuthenticator(fake, store, solver, fastAuthOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := auth.Login(ctx, testCreds())
	require.ErrorIs(t, err, context.Canceled)

	// the store must hold a whole generation, not a half-applied one
	tokens := store.Current()
	require.Empty(t, tokens.Ticket)
	require.Zero(t, tokens.Seq)
}
