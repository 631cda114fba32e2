// Package clock implements the current-time tool. It is a purely local
// computation against wall-clock time; no remote call is involved.
package clock

import (
	"context"
	"time"

	"goa.design/voz/tools"
)

const timeLayout = "Monday, January 2, 2006, 03:04:05 PM MST"

// New returns the current-time tool. A nil now defaults to time.Now; tests
// inject a fixed clock.
func New(now func() time.Time) *tools.Tool {
	if now == nil {
		now = time.Now
	}
	return &tools.Tool{
		Name:        "get_current_time",
		Description: "Get the current date and time when user asks for time, date, or current timestamp",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Execute: func(ctx context.Context, params map[string]any) (string, error) {
			return "Current date and time: " + now().Format(timeLayout), nil
		},
	}
}
