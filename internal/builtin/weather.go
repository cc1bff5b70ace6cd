package builtin

import (
	"context"
	"strings"

	"github.com/jvasek/meshbot/internal/command"
)

// weatherHandler delegates to the external lookup. A collaborator failure is
// a user-facing "unavailable" reply, never a fault.
func weatherHandler(opts Options) command.Handler {
	return command.HandlerFunc(func(ctx context.Context, env *command.Env, inv *command.Invocation) (string, error) {
		if opts.Weather == nil {
			return "🌦️ Weather lookups are not configured.", nil
		}

		place := strings.TrimSpace(strings.Join(inv.Args, " "))
		if place == "" {
			place = opts.WeatherDefaultPlace
		}
		if place == "" {
			return "Usage: !weather <place>", nil
		}

		report, err := opts.Weather.Current(ctx, place)
		if err != nil {
			env.Logger.Warn("weather lookup failed", "place", place, "error", err)
			return "🌦️ Weather unavailable right now. Try again later.", nil
		}
		return report, nil
	})
}
