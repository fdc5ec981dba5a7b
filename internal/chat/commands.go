package chat

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"faqbot/internal/domain"
)

// Command is a parsed "/name args..." chat message.
type Command struct {
	Name string
	Args []string
}

// ParseCommand returns nil when text is not a command.
func ParseCommand(text string) *Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	// Telegram appends the bot name in groups: /help@faq_bot
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return nil
	}
	return &Command{Name: name, Args: parts[1:]}
}

var startTime = time.Now()

var version = "dev"

// SetVersion sets the version reported by /version.
func SetVersion(v string) { version = v }

// handleCommand answers built-in commands. handled is false for unknown
// commands, which are then treated as ordinary questions.
func (l *Loop) handleCommand(ctx context.Context, cmd *Command, convID string) (response string, handled bool, err error) {
	switch cmd.Name {
	case "start":
		if err := l.service.ResetConversation(ctx, convID); err != nil {
			return "", true, err
		}
		return "Hello! Ask me a question and I'll find the best answer from the FAQ.", true, nil
	case "help":
		return helpText(), true, nil
	case "new", "clear":
		if err := l.service.EndConversation(ctx, convID); err != nil {
			return "", true, err
		}
		return "Conversation cleared. Starting fresh.", true, nil
	case "history":
		conv, err := l.service.History(ctx, convID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "No conversation history yet.", true, nil
			}
			return "", true, err
		}
		return fmt.Sprintf("This conversation has %d messages since %s.",
			len(conv.Messages), conv.CreatedAt.Format(time.RFC1123)), true, nil
	case "version":
		return fmt.Sprintf("faqbot %s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()), true, nil
	case "uptime":
		return fmt.Sprintf("Uptime: %s", time.Since(startTime).Round(time.Second)), true, nil
	}
	return "", false, nil
}

func helpText() string {
	return `Commands

/start - Start a new conversation
/help - Show this message
/new - Clear this conversation
/history - Show conversation size
/version - Show version info
/uptime - Show bot uptime

Anything else is answered from the FAQ.`
}
