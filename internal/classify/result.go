package classify

import (
	"strconv"
)

// Kind is the outcome of one classification.
type Kind int

const (
	KindOK Kind = iota
	KindQuotaExhausted
	KindTransportError
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindTransportError:
		return "transport_error"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Year is a model year as the service reported it. The service returns
// either a JSON integer or a free-form string such as "2016款".
type Year struct {
	Number int64
	Text   string
	IsText bool
}

// IntYear returns a numeric year.
func IntYear(n int64) Year { return Year{Number: n} }

// TextYear returns a year reported as a string.
func TextYear(s string) Year { return Year{Text: s, IsText: true} }

func (y Year) String() string {
	if y.IsText {
		return y.Text
	}
	return strconv.FormatInt(y.Number, 10)
}

// Choice is one ranked recognition candidate.
type Choice struct {
	Name  string
	Score float64
	Year  Year
}

// Result is the decoded outcome of a classification request. Choices is
// only set for KindOK and Err only for the error kinds.
type Result struct {
	Kind     Kind
	Choices  []Choice
	Err      error
	Attempts int
	Cached   bool
}

// OK reports whether the request produced ranked choices.
func (r Result) OK() bool { return r.Kind == KindOK }
