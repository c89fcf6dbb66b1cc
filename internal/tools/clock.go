package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/northstar-hq/northstar/pkg/types"
)

// currentTimeArgs is the JSON-decoded input for the "current_time" tool.
type currentTimeArgs struct {
	// Timezone is an optional IANA zone name, e.g. "Europe/Berlin".
	// Defaults to UTC.
	Timezone string `json:"timezone"`
}

// ClockTools returns the time lookup tool. now is injectable for tests;
// pass nil to use [time.Now].
func ClockTools(now func() time.Time) []Tool {
	if now == nil {
		now = time.Now
	}
	return []Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "current_time",
				Description: "Get the current date and time, optionally in a specific IANA timezone.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"timezone": map[string]any{"type": "string", "description": "IANA zone name, e.g. Europe/Berlin"},
					},
				},
			},
			Handler: func(_ context.Context, args string) (string, *types.AgentAction, error) {
				var in currentTimeArgs
				if args != "" {
					if err := json.Unmarshal([]byte(args), &in); err != nil {
						return "", nil, fmt.Errorf("tools: invalid current_time args: %w", err)
					}
				}
				loc := time.UTC
				if in.Timezone != "" {
					l, err := time.LoadLocation(in.Timezone)
					if err != nil {
						return "", nil, fmt.Errorf("tools: unknown timezone %q", in.Timezone)
					}
					loc = l
				}
				t := now().In(loc)
				return fmt.Sprintf("It is %s, %s.", t.Weekday(), t.Format(time.RFC3339)), nil, nil
			},
		},
	}
}
