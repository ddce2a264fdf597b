package timespec

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	friendlyOnce   sync.Once
	friendlyParser *when.Parser
)

func friendly() *when.Parser {
	friendlyOnce.Do(func() {
		w := when.New(nil)
		w.Add(en.All...)
		w.Add(common.All...)
		friendlyParser = w
	})
	return friendlyParser
}

// ParseFriendly reads natural-language phrases such as "yesterday",
// "2 hours ago" or "today at 3pm", relative to now.
func ParseFriendly(s string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(s)
	r, err := friendly().Parse(text, now)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidDatetime, "unable to parse datetime %q: %v", text, err)
	}
	if r == nil {
		return time.Time{}, errors.Wrapf(ErrInvalidDatetime, "unable to parse datetime %q", text)
	}
	return Truncate(r.Time.In(now.Location())), nil
}
