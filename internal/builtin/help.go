package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jvasek/meshbot/internal/command"
)

// helpHandler enumerates registered commands. With no argument it lists
// command names, paginated to the reply budget; with a page number it shows
// that page; with a command name it shows that command's help text.
func helpHandler(reg *command.Registry, prefix string) command.Handler {
	return command.HandlerFunc(func(_ context.Context, env *command.Env, inv *command.Invocation) (string, error) {
		if len(inv.Args) == 1 {
			arg := inv.Args[0]
			if page, err := strconv.Atoi(arg); err == nil {
				return helpPage(reg, prefix, page, env.MaxReplyLen), nil
			}
			if d, ok := reg.Get(strings.TrimPrefix(arg, prefix)); ok {
				return fmt.Sprintf("%s%s: %s", prefix, d.Name, d.Help), nil
			}
			return fmt.Sprintf("No such command %q. Try %shelp", arg, prefix), nil
		}
		return helpPage(reg, prefix, 1, env.MaxReplyLen), nil
	})
}

func helpPage(reg *command.Registry, prefix string, page, budget int) string {
	names := reg.Names()
	items := make([]string, 0, len(names))
	for _, n := range names {
		if n == "?" {
			continue
		}
		items = append(items, prefix+n)
	}

	pages := paginate(items, "🤖 Commands: ", budget)
	if page < 1 || page > len(pages) {
		return fmt.Sprintf("No page %d (pages: %d)", page, len(pages))
	}

	out := pages[page-1]
	if len(pages) > 1 {
		out += fmt.Sprintf(" [%d/%d, %shelp %d]", page, len(pages), prefix, page%len(pages)+1)
	}
	return out
}

// paginate splits comma-joined items into chunks that fit the budget,
// leaving headroom for the page suffix.
func paginate(items []string, header string, budget int) []string {
	const suffixRoom = 16
	limit := budget - suffixRoom
	if limit < len(header)+8 {
		limit = len(header) + 8
	}

	var pages []string
	line := header
	for _, item := range items {
		candidate := line
		if line != header {
			candidate += ", "
		}
		candidate += item

		if len(candidate) > limit && line != header {
			pages = append(pages, line)
			line = header + item
			continue
		}
		line = candidate
	}
	pages = append(pages, line)
	return pages
}
