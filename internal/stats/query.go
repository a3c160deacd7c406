package stats

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Query evaluates a JSONPath expression against the frame's rows, where the
// document root is the array of rows keyed by column name. For example
// `$[?(@.Import_type == 'entity')].name` selects the names of entity files.
func Query(frame Frame, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return x.Get(frame.Rows()), nil
}
