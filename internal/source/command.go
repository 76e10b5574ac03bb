// Package source detects new publications by running an external scraping command.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/rewired-gh/eventdrift/internal/logger"
	"github.com/rewired-gh/eventdrift/internal/models"
)

var (
	// ErrEmptyOutput is returned when the command printed nothing at all,
	// which usually means the scraper could not reach the network.
	ErrEmptyOutput = errors.New("detection command produced no output")
	// ErrParse is returned when the command output cannot be read as an event.
	ErrParse = errors.New("malformed detection output")
)

// noResultsMarker prefixes the scraper output when nothing matched the query.
const noResultsMarker = "[!]"

const sinceDateLayout = "2006-01-02"

// Runner executes a shell command line and returns its stdout and stderr.
type Runner func(ctx context.Context, cmdline string) (stdout, stderr []byte, err error)

// ShellRunner runs cmdline through sh -c.
func ShellRunner(ctx context.Context, cmdline string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Command polls an account by rendering and running a command template.
type Command struct {
	template string
	target   string
	limit    int
	timeout  time.Duration
	location *time.Location
	run      Runner
}

// Option customizes a Command.
type Option func(*Command)

// WithRunner replaces the shell runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(c *Command) { c.run = r }
}

// WithLocation sets the zone used to render the {date} placeholder.
func WithLocation(loc *time.Location) Option {
	return func(c *Command) { c.location = loc }
}

// NewCommand creates an event source. The template may use {user}, {date} and {limit}.
func NewCommand(template, target string, limit int, timeout time.Duration, opts ...Option) *Command {
	if limit < 1 {
		limit = 1
	}
	c := &Command{
		template: template,
		target:   target,
		limit:    limit,
		timeout:  timeout,
		location: time.Local,
		run:      ShellRunner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render builds the command line for a poll after the given watermark.
// Substituted values are shell-quoted when they need it.
func (c *Command) Render(after int64) string {
	since := time.Unix(after, 0).In(c.location).Format(sinceDateLayout)
	return strings.NewReplacer(
		"{user}", shellescape.Quote(c.target),
		"{date}", shellescape.Quote(since),
		"{limit}", strconv.Itoa(c.limit),
	).Replace(c.template)
}

// Poll returns the newest event strictly after the watermark, or nil when there is none.
func (c *Command) Poll(ctx context.Context, after int64) (*models.Event, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmdline := c.Render(after)
	logger.Debug("Running detection command: %s", cmdline)

	stdout, stderr, runErr := c.run(ctx, cmdline)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("detection command aborted: %w", ctxErr)
	}

	out := strings.TrimSpace(string(stdout))
	if out == "" {
		msg := strings.TrimSpace(string(stderr))
		if runErr != nil {
			return nil, fmt.Errorf("%w: %v: %s", ErrEmptyOutput, runErr, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrEmptyOutput, msg)
	}
	if runErr != nil {
		logger.Debug("Detection command exited with %v, parsing output anyway", runErr)
	}

	if strings.HasPrefix(out, noResultsMarker) {
		return nil, nil
	}

	event, err := ParseOutput(out)
	if err != nil {
		return nil, err
	}
	if event.Timestamp <= after {
		logger.Debug("Latest event at %d is not newer than watermark %d", event.Timestamp, after)
		return nil, nil
	}
	return event, nil
}
