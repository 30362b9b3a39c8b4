package golestan

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	random "github.com/mazen160/go-random"
)

// Portal endpoints. The login form and the post-login frameset live on
// fixed paths; reports render inside the main frame.
const (
	loginPath   = "/forms/authenticateuser/main.aspx"
	captchaPath = "/forms/authenticateuser/captcha.aspx"
	logoutPath  = "/forms/authenticateuser/logout.aspx"
	menuPath    = "/forms/f0/main.aspx"
	reportPath  = "/forms/f1/rep102.aspx"
)

// sessionQuery carries the continuity proof every post-login request
// needs: the ticket and the current sequence value.
func sessionQuery(t Tokens) url.Values {
	return url.Values{
		"tck": {t.Ticket},
		"seq": {strconv.Itoa(t.Seq)},
	}
}

// tokenForm merges step-specific form values with the hidden state the
// server demands back verbatim.
func tokenForm(t Tokens, form url.Values) url.Values {
	merged := url.Values{}
	for key, values := range form {
		merged[key] = values
	}
	merged.Set(fieldViewState, t.ViewState)
	merged.Set(fieldViewStateGenerator, t.ViewStateGenerator)
	merged.Set(fieldEventValidation, t.EventValidation)
	if t.Ticket != "" {
		merged.Set(fieldTicket, t.Ticket)
	}
	return merged
}

// postback builds the form values of a WebForms control event.
func postback(target, argument string) url.Values {
	return url.Values{
		fieldEventTarget:   {target},
		fieldEventArgument: {argument},
	}
}

// exchange issues one request on behalf of the session. The sequence
// counter is consumed up front: even if the exchange fails the server
// has seen the value, so the generation is swapped before the request
// goes out.
func exchange(ctx context.Context, transport Transport, store *TokenStore, method, path string, form url.Values) (Response, error) {
	t := store.Current()
	t.Seq++
	store.Replace(t)

	req := Request{
		Method:  method,
		Path:    path,
		Query:   sessionQuery(t),
		Cookies: t.Cookies,
	}
	if method == http.MethodPost {
		req.Form = tokenForm(t, form)
	}
	return transport.Exchange(ctx, req)
}

// sleepJitter waits for roughly d (up to 1.5x) or until the context is
// cancelled, whichever comes first.
func sleepJitter(ctx context.Context, d time.Duration) error {
	jitter := 0
	if ms := int(d / time.Millisecond / 2); ms > 0 {
		if n, err := random.IntRange(0, ms); err == nil {
			jitter = n
		}
	}

	timer := time.NewTimer(d + time.Duration(jitter)*time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
