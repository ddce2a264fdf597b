// Package factoid parses the one-line fact notation:
//
//	[start [to end]] activity@category[: #tag #tag][, description]
//
// Times may be ISO 8601, clock times, relative minute offsets or, when
// delimited from the activity by a separator, friendly phrases.
package factoid

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Tiliavir/nark/internal/logger"
	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/timespec"
)

// TimeHint tells the parser how many times to expect at the head of the
// factoid.
type TimeHint int

const (
	VerifyNone TimeHint = iota
	VerifyStart
	VerifyEnd
	VerifyBoth
)

func (h TimeHint) String() string {
	switch h {
	case VerifyStart:
		return "verify_start"
	case VerifyEnd:
		return "verify_end"
	case VerifyBoth:
		return "verify_both"
	default:
		return "verify_none"
	}
}

var hintByCommand = map[string]TimeHint{
	"on":      VerifyNone,
	"now":     VerifyNone,
	"at":      VerifyStart,
	"to":      VerifyEnd,
	"until":   VerifyEnd,
	"from":    VerifyBoth,
	"between": VerifyBoth,
}

// HintFor maps a command word to the times it expects.
func HintFor(command string) (TimeHint, bool) {
	h, ok := hintByCommand[command]
	return h, ok
}

// Commands lists the command words understood by HintFor.
func Commands() []string {
	return []string{"on", "now", "at", "to", "until", "from", "between"}
}

const activitySep = "@"

var (
	DefaultSeparators      = []string{",", ":", "\n"}
	DefaultRangeSeparators = []string{"to", "until", "-", "|"}
	DefaultTagStamps       = model.TagStamps
)

// Options tune a single Parse call. Zero values select the defaults.
type Options struct {
	// Now anchors relative and clock times. Defaults to time.Now().
	Now time.Time
	// Location is used for times without a zone. Defaults to Now's location.
	Location *time.Location
	// Separators split datetimes, category, tags and description. A
	// separator only counts when it ends a word and is followed by
	// whitespace or the end of the input.
	Separators []string
	// RangeSeparators join the start and end times. They must be
	// surrounded by whitespace.
	RangeSeparators []string
	// TagStamps are the characters that introduce a tag.
	TagStamps string
	// Lenient returns the partial record alongside any error, and accepts
	// factoids without an activity.
	Lenient bool
}

// Record is the parsed content of a factoid.
type Record struct {
	Start       *time.Time
	End         *time.Time
	Activity    string
	Category    string
	Tags        []string
	Description string
}

// Fact converts the record into a new, unsaved fact.
func (r Record) Fact() (model.Fact, error) {
	f := model.Fact{
		Activity:    r.Activity,
		Category:    r.Category,
		Tags:        model.NormalizeTags(r.Tags),
		Description: r.Description,
	}
	if err := f.SetStart(r.Start); err != nil {
		return model.Fact{}, err
	}
	if err := f.SetEnd(r.End); err != nil {
		return model.Fact{}, err
	}
	return f, f.Validate()
}

// Parse reads raw according to hint. Strict parsing returns an empty record
// with any error; lenient parsing returns whatever was recognized together
// with the error.
func Parse(raw string, hint TimeHint, opts Options) (Record, error) {
	p := newParser(raw, hint, opts)
	err := p.parse()
	if err != nil && !opts.Lenient {
		return Record{}, err
	}
	return p.record(), err
}

// pendingTime is a time recognized but not yet placed on the calendar.
type pendingTime struct {
	at  *time.Time
	tok timespec.Token
	raw string
}

type parser struct {
	flat      string
	hint      TimeHint
	now       time.Time
	loc       *time.Location
	seps      []string
	rangeSeps []string
	reRange   *regexp.Regexp
	stamps    string
	lenient   bool

	dt1, dt2    pendingTime
	start, end  *time.Time
	activity    string
	category    string
	tags        []string
	description string
}

func newParser(raw string, hint TimeHint, opts Options) *parser {
	p := &parser{
		flat:      raw,
		hint:      hint,
		now:       opts.Now,
		loc:       opts.Location,
		seps:      opts.Separators,
		rangeSeps: opts.RangeSeparators,
		stamps:    opts.TagStamps,
		lenient:   opts.Lenient,
	}
	if p.now.IsZero() {
		p.now = time.Now()
	}
	if p.loc == nil {
		p.loc = p.now.Location()
	}
	if len(p.seps) == 0 {
		p.seps = DefaultSeparators
	}
	if len(p.rangeSeps) == 0 {
		p.rangeSeps = DefaultRangeSeparators
	}
	if p.stamps == "" {
		p.stamps = DefaultTagStamps
	}
	quoted := make([]string, len(p.rangeSeps))
	for i, s := range p.rangeSeps {
		quoted[i] = regexp.QuoteMeta(s)
	}
	p.reRange = regexp.MustCompile(`\s(?:` + strings.Join(quoted, "|") + `)\s`)
	return p
}

func (p *parser) resetResult() {
	p.dt1, p.dt2 = pendingTime{}, pendingTime{}
	p.start, p.end = nil, nil
	p.activity, p.category, p.description = "", "", ""
	p.tags = nil
}

func (p *parser) record() Record {
	return Record{
		Start:       p.start,
		End:         p.end,
		Activity:    strings.TrimSpace(p.activity),
		Category:    strings.TrimSpace(p.category),
		Tags:        p.tags,
		Description: strings.TrimSpace(p.description),
	}
}

func (p *parser) parse() error {
	p.resetResult()
	rest, expectCategory := "", false

	out := p.parseEasy()
	if out.needsHard {
		logger.Log.Debugw("factoid: falling back to delimiter parsing",
			"factoid", p.flat, "hint", p.hint.String(), "reason", out.reason)
		p.resetResult()
		var err error
		rest, expectCategory, err = p.parseHard()
		if err != nil {
			return err
		}
	} else {
		rest, expectCategory = out.rest, out.expectCategory
	}

	if expectCategory {
		p.parseCategoryAndRemainder(rest)
	} else {
		p.parseTagsAndDescription(rest, true)
	}

	if err := p.hydrate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.activity) == "" && !p.lenient {
		return ErrMissingActivity
	}
	return nil
}

// easyOutcome is the result of the ISO-anchored attempt: either the text
// following the activity, or a request to retry with the delimiter-driven
// strategy.
type easyOutcome struct {
	rest           string
	expectCategory bool
	needsHard      bool
	reason         error
}

// parseEasy expects the leading times to be self-delimiting tokens: ISO
// dates, clock times or relative offsets.
func (p *parser) parseEasy() easyOutcome {
	rest := p.flat
	var err error
	switch p.hint {
	case VerifyStart:
		rest, err = p.easyRange(rest, false)
	case VerifyEnd:
		rest, err = p.timeFromRest(rest, 2)
	case VerifyBoth:
		rest, err = p.easyRange(rest, true)
	}
	if err != nil {
		return easyOutcome{needsHard: true, reason: err}
	}
	rest, expect := p.lstripActivity(rest)
	return easyOutcome{rest: rest, expectCategory: expect}
}

func (p *parser) easyRange(rest string, strictlyTwo bool) (string, error) {
	rest, err := p.timeFromRest(rest, 1)
	if err != nil {
		return "", err
	}
	if loc := p.reRange.FindStringIndex(rest); loc != nil && loc[0] == 0 {
		return p.timeFromRest(rest[loc[1]:], 2)
	}
	if strictlyTwo {
		return "", missingDatetimeTwo(p.rangeSeps)
	}
	return rest, nil
}

func (p *parser) slot(n int) *pendingTime {
	if n == 1 {
		return &p.dt1
	}
	return &p.dt2
}

// timeFromRest consumes one time token from the head of s into slot n.
func (p *parser) timeFromRest(s string, n int) (string, error) {
	tok, rest, ok := timespec.Discern(s)
	if !ok {
		if n == 1 {
			return s, ErrMissingDatetimeOne
		}
		return s, missingDatetimeTwo(p.rangeSeps)
	}
	pt := p.slot(n)
	if tok.Kind == timespec.KindDatetime {
		t, err := timespec.ParseISO8601(tok.Text, p.loc)
		if err != nil {
			return s, invalidDatetime(tok.Text, err)
		}
		pt.at = &t
	} else {
		pt.tok = tok
	}
	return rest, nil
}

func (p *parser) lstripActivity(s string) (string, bool) {
	idx := strings.Index(s, activitySep)
	if idx < 0 {
		return s, false
	}
	p.activity = s[:idx]
	return s[idx+len(activitySep):], true
}

// parseHard locates the activity separator first and treats everything
// before it as times and activity.
func (p *parser) parseHard() (string, bool, error) {
	switch p.hint {
	case VerifyStart:
		rest, err := p.lstripDatetimes(2, false)
		return rest, true, err
	case VerifyEnd:
		rest, err := p.lstripDatetimes(1, false)
		return rest, true, err
	case VerifyBoth:
		rest, err := p.lstripDatetimes(2, true)
		return rest, true, err
	}
	rest, expect := p.lstripActivity(p.flat)
	return rest, expect, nil
}

func (p *parser) lstripDatetimes(expecting int, strictlyTwo bool) (string, error) {
	idx := strings.Index(p.flat, activitySep)
	if idx < 0 {
		return "", ErrMissingSeparatorActivity
	}
	datetimesAndAct := p.flat[:idx]
	restAfterAct := p.flat[idx+len(activitySep):]

	if datetimes, _, act, ok := p.splitItem(datetimesAndAct); ok {
		p.activity = act
		return restAfterAct, p.knownDatetimes(datetimes, expecting, strictlyTwo)
	}
	return restAfterAct, p.magicDatetimes(datetimesAndAct, expecting, strictlyTwo)
}

// knownDatetimes handles times the user delimited from the activity; they
// are kept raw and resolved during hydration.
func (p *parser) knownDatetimes(datetimes string, expecting int, strictlyTwo bool) error {
	if expecting == 2 {
		if before, after, ok := p.splitRange(datetimes); ok && strings.TrimSpace(before) != "" {
			p.dt1.raw, p.dt2.raw = before, after
			return nil
		}
		if strictlyTwo {
			return missingDatetimeTwo(p.rangeSeps)
		}
	}
	if p.hint == VerifyStart {
		p.dt1.raw = datetimes
	} else {
		p.dt2.raw = datetimes
	}
	return nil
}

// magicDatetimes handles undelimited input: the last time must be a
// self-delimiting token directly followed by the activity.
func (p *parser) magicDatetimes(dtAndAct string, expecting int, strictlyTwo bool) error {
	text, n := dtAndAct, 2
	if p.hint == VerifyStart {
		n = 1
	}
	if expecting == 2 {
		if before, after, ok := p.splitRange(dtAndAct); ok && strings.TrimSpace(before) != "" {
			p.dt1.raw = before
			text, n = after, 2
		} else if strictlyTwo {
			return missingDatetimeTwo(p.rangeSeps)
		}
	}
	rest, err := p.timeFromRest(text, n)
	if err != nil {
		return err
	}
	p.activity = rest
	return nil
}

func (p *parser) splitRange(s string) (before, after string, ok bool) {
	loc := p.reRange.FindStringIndex(s)
	if loc == nil {
		return "", s, false
	}
	return s[:loc[0]], s[loc[1]:], true
}

// splitItem splits s at the first separator that ends a word and is
// followed by whitespace or the end of s.
func (p *parser) splitItem(s string) (before, sep, after string, ok bool) {
	for i := 1; i < len(s); i++ {
		for _, sp := range p.seps {
			if !strings.HasPrefix(s[i:], sp) {
				continue
			}
			prev, _ := utf8.DecodeLastRuneInString(s[:i])
			if unicode.IsSpace(prev) {
				continue
			}
			end := i + len(sp)
			if end < len(s) {
				next, _ := utf8.DecodeRuneInString(s[end:])
				if !unicode.IsSpace(next) {
					continue
				}
			}
			return s[:i], sp, s[end:], true
		}
	}
	return s, "", "", false
}

func (p *parser) trimTrailingSep(s string) string {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	for _, sp := range p.seps {
		if len(s) > len(sp) && strings.HasSuffix(s, sp) {
			prev, _ := utf8.DecodeLastRuneInString(s[:len(s)-len(sp)])
			if !unicode.IsSpace(prev) {
				return s[:len(s)-len(sp)]
			}
		}
	}
	return s
}

// parseCategoryAndRemainder reads "category #inline tags" up to the first
// separator, then tags and description.
func (p *parser) parseCategoryAndRemainder(s string) {
	if rest, ok := p.cutLeadingSep(s); ok {
		p.parseTagsAndDescription(rest, false)
		return
	}
	catAndTags, _, remainder, ok := p.splitItem(s)
	if !ok {
		p.category, p.tags = p.splitCategoryTags(s)
		return
	}
	p.category, p.tags = p.splitCategoryTags(catAndTags)
	p.parseTagsAndDescription(remainder, false)
}

// parseTagsAndDescription reads an optional run of stamped tags, ended by a
// separator, followed by the description. Without a leading tag the whole
// text is description. needSep rejects a tag run that is not terminated.
func (p *parser) parseTagsAndDescription(s string, needSep bool) {
	if rest, ok := p.cutLeadingSep(s); ok {
		p.description = rest
		return
	}
	trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
	if !p.startsWithTag(trimmed) {
		if p.startsWithLoneStamp(trimmed) {
			logger.Log.Warnw("factoid: empty tag treated as text", "text", trimmed)
		}
		p.description = s
		return
	}
	seg, _, desc, ok := p.splitItem(trimmed)
	if !ok {
		if needSep {
			logger.Log.Warnw("factoid: tags need a separator before the description; keeping them as text",
				"text", trimmed)
			p.description = s
			return
		}
		seg, desc = trimmed, ""
	}
	p.tags = appendTags(p.tags, p.splitStamped(seg, true)[1:])
	p.description = desc
}

// cutLeadingSep drops a separator that opens s and stands alone, which
// marks the item before it as empty.
func (p *parser) cutLeadingSep(s string) (string, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	for _, sp := range p.seps {
		if !strings.HasPrefix(s, sp) {
			continue
		}
		rest := s[len(sp):]
		if next, size := utf8.DecodeRuneInString(rest); size == 0 || unicode.IsSpace(next) {
			return rest, true
		}
	}
	return s, false
}

func (p *parser) splitCategoryTags(s string) (string, []string) {
	parts := p.splitStamped(s, false)
	return parts[0], appendTags(nil, parts[1:])
}

func appendTags(tags []string, more []string) []string {
	for _, t := range more {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		dup := false
		for _, have := range tags {
			if have == t {
				dup = true
				break
			}
		}
		if !dup {
			tags = append(tags, t)
		}
	}
	return tags
}

func (p *parser) isStamp(r rune) bool {
	return strings.ContainsRune(p.stamps, r)
}

func (p *parser) startsWithTag(s string) bool {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || !p.isStamp(r) || size == len(s) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[size:])
	return !unicode.IsSpace(next)
}

func (p *parser) startsWithLoneStamp(s string) bool {
	r, size := utf8.DecodeRuneInString(s)
	return size > 0 && p.isStamp(r) && !p.startsWithTag(s)
}

// splitStamped cuts s before every tag stamp that is preceded by whitespace
// (or starts s, when atStart is set) and followed by a non-space character.
// A stamp glued to the previous word, like the one in `"#not`, is text.
func (p *parser) splitStamped(s string, atStart bool) []string {
	var parts []string
	last := 0
	for i, r := range s {
		if !p.isStamp(r) {
			continue
		}
		if i == 0 {
			if !atStart {
				continue
			}
		} else {
			prev, _ := utf8.DecodeLastRuneInString(s[:i])
			if !unicode.IsSpace(prev) {
				continue
			}
		}
		size := utf8.RuneLen(r)
		if i+size >= len(s) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(s[i+size:])
		if unicode.IsSpace(next) {
			continue
		}
		parts = append(parts, s[last:i])
		last = i + size
	}
	return append(parts, s[last:])
}

// hydrate places pending times on the calendar. A clock start lands on
// Now's day; a clock end lands at or after the start, wrapping past
// midnight when needed.
func (p *parser) hydrate() error {
	start, err := p.resolve(&p.dt1, func(c timespec.Clock) time.Time {
		return timespec.ClockOn(p.now, c)
	})
	if err != nil {
		return err
	}
	p.start = start

	end, err := p.resolve(&p.dt2, func(c timespec.Clock) time.Time {
		if p.start != nil {
			return timespec.ClockAfter(*p.start, c)
		}
		return timespec.ClockOn(p.now, c)
	})
	if err != nil {
		return err
	}
	p.end = end
	return nil
}

func (p *parser) resolve(pt *pendingTime, place func(timespec.Clock) time.Time) (*time.Time, error) {
	switch {
	case pt.at != nil:
		return model.TimePtr(*pt.at), nil
	case pt.tok.Kind != timespec.KindNone:
		t, err := pt.tok.Resolve(p.now, place, p.loc)
		if err != nil {
			return nil, invalidDatetime(pt.tok.Text, err)
		}
		return model.TimePtr(t), nil
	case strings.TrimSpace(pt.raw) != "":
		return p.hydrateRaw(pt.raw, place)
	}
	return nil, nil
}

// hydrateRaw resolves delimited time text: a single token, strict ISO 8601,
// then a friendly phrase.
func (p *parser) hydrateRaw(raw string, place func(timespec.Clock) time.Time) (*time.Time, error) {
	text := strings.TrimSpace(p.trimTrailingSep(raw))
	if tok, rest, ok := timespec.Discern(text); ok && strings.TrimSpace(rest) == "" {
		t, err := tok.Resolve(p.now, place, p.loc)
		if err != nil {
			return nil, invalidDatetime(text, err)
		}
		return model.TimePtr(t), nil
	}
	t, err := timespec.ParseISO8601(text, p.loc)
	if err == nil {
		return model.TimePtr(t), nil
	}
	t, err = timespec.ParseFriendly(text, p.now)
	if err != nil {
		return nil, invalidDatetime(text, err)
	}
	return model.TimePtr(t), nil
}
