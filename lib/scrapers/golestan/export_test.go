package golestan

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBlob = `<rows><r C1="1010101" C2="مباني برنامه سازي" C3="3" C4="40" C5="مختلط" C6="رضا احمدي" C7="شنبه 13:00-15:00" C8="1403.10.15 08:30-10:30" C9="" C10=""/></rows>`

// exportFake scripts the export POST while serving a healthy report
// page to state-refresh GETs.
func exportFake(onExport func(attempt int) Response) *fakeTransport {
	attempts := 0
	fake := &fakeTransport{}
	fake.handler = func(req Request) (Response, error) {
		if req.Method == http.MethodPost && req.Form.Get(fieldEventTarget) == controlExport {
			attempts++
			return onExport(attempts), nil
		}
		return Response{StatusCode: 200, Body: portalPage("", allControls...)}, nil
	}
	return fake
}

func TestCaptureEmptyTwiceThenPayload(t *testing.T) {
	fake := exportFake(func(attempt int) Response {
		if attempt <= 2 {
			return Response{StatusCode: 200, Body: portalPage("", allControls...)}
		}
		return Response{StatusCode: 200, Body: []byte("<html><body>" + testBlob + "</body></html>")}
	})
	store := navReadyStore()
	export := NewExportCapture(fake, store, fastExportOptions())

	payload, retries, err := export.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, retries)
	require.Equal(t, testBlob, string(payload))
}

func TestCaptureRedirectSink(t *testing.T) {
	payloadPath := "/temp/report_102.htm"
	table := []byte(`<html><body><table id="ReportTable"><tr><td>x</td></tr></table></body></html>`)

	fake := &fakeTransport{}
	fake.handler = func(req Request) (Response, error) {
		switch {
		case req.Method == http.MethodPost && req.Form.Get(fieldEventTarget) == controlExport:
			return Response{StatusCode: 302, Location: payloadPath}, nil
		case req.Method == http.MethodGet && req.Path == payloadPath:
			return Response{StatusCode: 200, Body: table}, nil
		}
		return Response{StatusCode: 200, Body: portalPage("", allControls...)}, nil
	}

	store := navReadyStore()
	export := NewExportCapture(fake, store, fastExportOptions())

	payload, retries, err := export.Capture(context.Background())
	require.NoError(t, err)
	require.Zero(t, retries)
	require.Equal(t, table, payload)
}

func TestCaptureExhaustsRetries(t *testing.T) {
	fake := exportFake(func(attempt int) Response {
		return Response{StatusCode: 200, Body: portalPage("", allControls...)}
	})
	store := navReadyStore()
	export := NewExportCapture(fake, store, fastExportOptions())

	_, retries, err := export.Capture(context.Background())

	var empty ExportEmptyError
	require.ErrorAs(t, err, &empty)
	require.Equal(t, DefaultExportRetries, retries)
	require.Equal(t, DefaultExportRetries+1, empty.Attempts)
}

func TestRefreshFailsWhenExportControlGone(t *testing.T) {
	fake := &fakeTransport{}
	fake.handler = func(req Request) (Response, error) {
		if req.Method == http.MethodPost {
			// empty capture forces a refresh
			return Response{StatusCode: 200, Body: portalPage("")}, nil
		}
		// the refreshed page lost its export control
		return Response{StatusCode: 200, Body: portalPage("")}, nil
	}
	store := navReadyStore()
	export := NewExportCapture(fake, store, fastExportOptions())

	_, _, err := export.Capture(context.Background())
	require.ErrorIs(t, err, errUnexpectedPage)
}
