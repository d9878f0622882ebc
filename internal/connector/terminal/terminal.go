// Package terminal runs a weather chat over a line-oriented reader and writer,
// typically stdin and stdout.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/h1v3-io/skycast/internal/agent"
	"github.com/h1v3-io/skycast/internal/connector"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

const (
	prompt       = "> "
	spinInterval = 120 * time.Millisecond
)

var spinFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// REPL reads one question per line and prints the assistant's replies.
type REPL struct {
	sessions *agent.SessionManager
	in       io.Reader
	out      io.Writer
	chatID   string
	spinner  bool
	logger   *slog.Logger

	mu sync.Mutex // serializes writes to out
}

// Option configures a REPL.
type Option func(*REPL)

// WithChatID sets the session key. Defaults to "terminal".
func WithChatID(id string) Option {
	return func(r *REPL) { r.chatID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *REPL) { r.logger = l }
}

// New creates a REPL. The animated busy line is used only when out is a terminal.
func New(sessions *agent.SessionManager, in io.Reader, out io.Writer, opts ...Option) *REPL {
	r := &REPL{
		sessions: sessions,
		in:       in,
		out:      out,
		chatID:   "terminal",
		logger:   slog.Default(),
	}
	if f, ok := out.(*os.File); ok {
		r.spinner = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads input until EOF, "/quit" or context cancellation.
func (r *REPL) Run(ctx context.Context) error {
	r.printf("%s\n/new starts over, /quit exits.\n\n", connector.Greeting)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		r.printf("%s", prompt)
		select {
		case <-ctx.Done():
			r.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				r.printf("\n")
				if err := <-errc; err != nil {
					return fmt.Errorf("terminal: read input: %w", err)
				}
				return nil
			}
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (r *REPL) handle(ctx context.Context, text string) (quit bool) {
	switch strings.ToLower(text) {
	case "":
		return false
	case "/quit", "/exit", "exit", "quit":
		return true
	case "/new", "/reset":
		if err := r.sessions.Reset(r.chatID); err != nil {
			r.ShowError(err.Error())
			return false
		}
		r.printf("%s\n\n", connector.Greeting)
		return false
	}

	out, err := r.sessions.Exchange(ctx, r.chatID, text, r)
	if err != nil {
		r.ShowError("Something went wrong, please try again.")
		r.logger.Error("exchange failed", "chat_id", r.chatID, "error", err)
		return false
	}
	r.logger.Debug("exchange finished", "exchange", out.ExchangeID, "state", out.State.String())
	return false
}

// Render prints assistant turns. The user's turn is already on screen.
func (r *REPL) Render(turn protocol.DisplayTurn) {
	if turn.Role != protocol.RoleAssistant {
		return
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(turn.Content))
	if turn.Icon != "" {
		fmt.Fprintf(&b, "\n[icon] %s", turn.Icon)
	}
	r.printf("%s\n\n", b.String())
}

func (r *REPL) ShowError(msg string) {
	r.printf("%s%s\n", connector.ErrorPrefix, msg)
}

// Busy prints the status. On a terminal it animates a spinner on one line
// and erases it when done.
func (r *REPL) Busy(status string) func() {
	if !r.spinner {
		r.printf("… %s\n", status)
		return func() {}
	}

	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(spinInterval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			r.printf("\r\033[K%s %s", spinFrames[i%len(spinFrames)], status)
			select {
			case <-stop:
				r.printf("\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-finished
		})
	}
}

func (r *REPL) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}
