package factoid

import (
	"fmt"
	"strings"
)

// Kind identifies a class of parse failure.
type Kind int

const (
	kindAny Kind = iota
	KindMissingDatetimeOne
	KindMissingDatetimeTwo
	KindMissingSeparatorActivity
	KindMissingActivity
	KindInvalidDatetime
)

// ParserError is returned for every grammar violation. Use errors.Is with
// ErrParser to match any of them, or with one of the specific sentinels.
type ParserError struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *ParserError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *ParserError) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by kind, so wrapped and re-worded errors still match.
func (e *ParserError) Is(target error) bool {
	t, ok := target.(*ParserError)
	if !ok {
		return false
	}
	return t.Kind == kindAny || t.Kind == e.Kind
}

var (
	ErrParser                   = &ParserError{Kind: kindAny, Msg: "unable to parse factoid"}
	ErrMissingDatetimeOne       = &ParserError{Kind: KindMissingDatetimeOne, Msg: "expected to find a datetime"}
	ErrMissingDatetimeTwo       = &ParserError{Kind: KindMissingDatetimeTwo, Msg: "expected to find two datetimes"}
	ErrMissingSeparatorActivity = &ParserError{Kind: KindMissingSeparatorActivity, Msg: `expected to find an "@" indicating the activity`}
	ErrMissingActivity          = &ParserError{Kind: KindMissingActivity, Msg: "expected to find an activity name"}
	ErrInvalidDatetime          = &ParserError{Kind: KindInvalidDatetime, Msg: "invalid datetime"}
)

func missingDatetimeTwo(rangeSeps []string) *ParserError {
	return &ParserError{
		Kind: KindMissingDatetimeTwo,
		Msg:  "expected to find the two datetimes separated by one of: " + orJoin(rangeSeps),
	}
}

func invalidDatetime(text string, cause error) *ParserError {
	return &ParserError{
		Kind:  KindInvalidDatetime,
		Msg:   fmt.Sprintf("unable to parse datetime %q", strings.TrimSpace(text)),
		Cause: cause,
	}
}

// orJoin renders ["a", "b", "c"] as `"a", "b" or "c"`.
func orJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = fmt.Sprintf("%q", w)
	}
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}
