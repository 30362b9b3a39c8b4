package golestan

import (
	"bytes"

	"entekhab-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Hidden fields the portal expects back verbatim on every POST.
const (
	fieldViewState          = "__VIEWSTATE"
	fieldViewStateGenerator = "__VIEWSTATEGENERATOR"
	fieldEventValidation    = "__EVENTVALIDATION"
	fieldEventTarget        = "__EVENTTARGET"
	fieldEventArgument      = "__EVENTARGUMENT"
	fieldTicket             = "TicketTextBox"
)

// FormFields is the next generation of hidden form state scraped from
// a response body.
type FormFields struct {
	ViewState          string
	ViewStateGenerator string
	EventValidation    string
	// Ticket is empty on pages that don't carry one (the login form
	// before authentication).
	Ticket string
}

// ExtractFields pulls the hidden form state out of a page. A missing
// field means the response is not a portal form page at all, which is
// the primary signal that navigation landed somewhere unexpected.
func ExtractFields(body []byte) (FormFields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return FormFields{}, err
	}

	fields := FormFields{
		ViewState:          htmlutil.HiddenInput(doc, fieldViewState),
		ViewStateGenerator: htmlutil.HiddenInput(doc, fieldViewStateGenerator),
		EventValidation:    htmlutil.HiddenInput(doc, fieldEventValidation),
		Ticket:             htmlutil.HiddenInput(doc, fieldTicket),
	}

	switch {
	case fields.ViewState == "":
		return FormFields{}, MissingFieldError{Field: fieldViewState}
	case fields.ViewStateGenerator == "":
		return FormFields{}, MissingFieldError{Field: fieldViewStateGenerator}
	case fields.EventValidation == "":
		return FormFields{}, MissingFieldError{Field: fieldEventValidation}
	}

	return fields, nil
}

// nextTokens folds freshly extracted fields and cookies into the token
// generation that follows cur.
func nextTokens(cur Tokens, fields FormFields, issuedCookies map[string]string) Tokens {
	next := cur
	next.ViewState = fields.ViewState
	next.ViewStateGenerator = fields.ViewStateGenerator
	next.EventValidation = fields.EventValidation
	if fields.Ticket != "" {
		next.Ticket = fields.Ticket
	}
	next.Cookies = replaceCookies(cur.Cookies, issuedCookies)
	return next
}
