package export

import (
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/philipwilson/trees/internal/errors"
)

var (
	parserOnce sync.Once
	parser     *when.Parser
)

func naturalParser() *when.Parser {
	parserOnce.Do(func() {
		parser = when.New(nil)
		parser.Add(en.All...)
		parser.Add(common.All...)
	})
	return parser
}

// ParseTime reads a filter bound. It accepts RFC 3339, a plain date
// (midnight UTC) or an English expression such as "yesterday" or
// "last week", resolved against now. An empty string is the zero time.
func ParseTime(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, expr); err == nil {
		return t, nil
	}

	result, err := naturalParser().Parse(expr, now)
	if err != nil || result == nil {
		return time.Time{}, errors.Newf("cannot understand time %q", expr).
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}
	return result.Time, nil
}
