package golestan

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"entekhab-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// Request is one logical exchange against the portal. Cookies come
// from the token store, never from a shared jar, so the store stays
// the single owner of session state.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Form    url.Values
	Cookies map[string]string
	Referer string
}

type Response struct {
	StatusCode int
	Body       []byte
	// Cookies holds only the cookies this response freshly issued.
	Cookies map[string]string
	// Location is set on 3xx responses; redirects are never followed
	// automatically so callers can intercept export sinks.
	Location string
}

// Transport performs a single request/response exchange. It never
// retries; retry policy belongs to the state machines that know what a
// failure actually means.
type Transport interface {
	Exchange(ctx context.Context, req Request) (Response, error)
}

type HTTPTransport struct {
	http *resty.Client
}

var _ Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(baseUrl string) (*HTTPTransport, error) {
	if _, err := url.Parse(baseUrl); err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	// the token store owns the cookie set; a jar would smuggle stale
	// cookies across generations
	client.SetCookieJar(nil)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.NoRedirectPolicy())
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/golestan/http")

	return &HTTPTransport{http: client}, nil
}

func (t *HTTPTransport) Exchange(ctx context.Context, req Request) (Response, error) {
	r := t.http.R().SetContext(ctx)

	for name, value := range req.Cookies {
		r.SetCookie(&http.Cookie{Name: name, Value: value})
	}
	if req.Query != nil {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Referer != "" {
		r.SetHeader("referer", req.Referer)
	}

	var res *resty.Response
	var err error
	if req.Method == http.MethodPost {
		r.SetHeader("content-type", "application/x-www-form-urlencoded")
		r.SetFormDataFromValues(req.Form)
		res, err = r.Post(req.Path)
	} else {
		res, err = r.Get(req.Path)
	}
	if err != nil {
		// with redirects disabled resty surfaces 3xx as an error even
		// though the response is perfectly usable
		if res == nil || res.RawResponse == nil || res.StatusCode() < 300 || res.StatusCode() >= 400 {
			return Response{}, err
		}
	}
	if res.StatusCode() >= 400 {
		return Response{}, StatusError{Code: res.StatusCode()}
	}

	issued := map[string]string{}
	for _, c := range res.Cookies() {
		issued[c.Name] = c.Value
	}

	return Response{
		StatusCode: res.StatusCode(),
		Body:       res.Body(),
		Cookies:    issued,
		Location:   res.Header().Get("Location"),
	}, nil
}
