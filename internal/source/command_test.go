package source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fakeRunner(stdout, stderr string, err error, seen *string) Runner {
	return func(ctx context.Context, cmdline string) ([]byte, []byte, error) {
		if seen != nil {
			*seen = cmdline
		}
		return []byte(stdout), []byte(stderr), err
	}
}

func TestCommand_Render(t *testing.T) {
	c := NewCommand("./twint -u {user} --since {date} --limit {limit}", "RunzeHao", 1, time.Second,
		WithLocation(time.UTC))

	after := time.Date(2021, 8, 15, 23, 59, 0, 0, time.UTC).Unix()
	got := c.Render(after)
	want := "./twint -u RunzeHao --since 2021-08-15 --limit 1"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestCommand_Render_QuotesTarget(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{target: "Runze Hao", want: "scrape -u 'Runze Hao' --limit 2"},
		{target: "x; rm -rf ~", want: "scrape -u 'x; rm -rf ~' --limit 2"},
		{target: "it's", want: `scrape -u 'it'"'"'s' --limit 2`},
		{target: "", want: "scrape -u '' --limit 2"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			c := NewCommand("scrape -u {user} --limit {limit}", tt.target, 2, time.Second, WithLocation(time.UTC))
			if got := c.Render(0); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShellRunner_QuotedTargetIsOneArgument(t *testing.T) {
	c := NewCommand(`printf '%s\n' {user}`, "a b; echo injected", 1, time.Second)
	stdout, _, err := ShellRunner(context.Background(), c.Render(0))
	if err != nil {
		t.Fatalf("ShellRunner: %v", err)
	}
	if got := strings.TrimSpace(string(stdout)); got != "a b; echo injected" {
		t.Errorf("shell saw %q, want the target as one argument", got)
	}
}

func TestCommand_Poll_NewEvent(t *testing.T) {
	var seen string
	out := "1426786080787689472 2021-08-15 10:20:30 +0800 <RunzeHao> btc to the moon\n1426786080787689000 2021-08-14 09:00:00 +0800 <RunzeHao> older\n"
	c := NewCommand("scrape {user} {date}", "RunzeHao", 1, time.Second,
		WithLocation(time.UTC), WithRunner(fakeRunner(out, "", nil, &seen)))

	event, err := c.Poll(context.Background(), 1000)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event")
	}
	want := time.Date(2021, 8, 15, 2, 20, 30, 0, time.UTC).Unix()
	if event.Timestamp != want {
		t.Errorf("timestamp: got %d, want %d", event.Timestamp, want)
	}
	if event.Content != "btc to the moon" {
		t.Errorf("content: got %q", event.Content)
	}
	if seen != "scrape RunzeHao 1970-01-01" {
		t.Errorf("unexpected command line %q", seen)
	}
}

func TestCommand_Poll_NoResultsMarker(t *testing.T) {
	c := NewCommand("scrape", "u", 1, time.Second,
		WithRunner(fakeRunner("[!] No more data! Scraping will stop now.\n", "", nil, nil)))

	event, err := c.Poll(context.Background(), 1000)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if event != nil {
		t.Errorf("expected no event, got %+v", event)
	}
}

func TestCommand_Poll_EmptyOutput(t *testing.T) {
	c := NewCommand("scrape", "u", 1, time.Second,
		WithRunner(fakeRunner("", "connection refused", errors.New("exit status 1"), nil)))

	_, err := c.Poll(context.Background(), 1000)
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("stderr not included in error: %v", err)
	}
}

func TestCommand_Poll_NotNewerThanWatermark(t *testing.T) {
	out := `{"id":1,"date":"2021-08-15","time":"10:20:30","timezone":"+0800","tweet":"gm"}`
	c := NewCommand("scrape", "u", 1, time.Second, WithRunner(fakeRunner(out, "", nil, nil)))

	ts := time.Date(2021, 8, 15, 2, 20, 30, 0, time.UTC).Unix()
	event, err := c.Poll(context.Background(), ts)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if event != nil {
		t.Errorf("event at the watermark must not be reported, got %+v", event)
	}

	event, err = c.Poll(context.Background(), ts-1)
	if err != nil || event == nil {
		t.Fatalf("expected event one second past watermark, got %v, %v", event, err)
	}
}

func TestCommand_Poll_ParseFailure(t *testing.T) {
	c := NewCommand("scrape", "u", 1, time.Second, WithRunner(fakeRunner("garbage", "", nil, nil)))

	if _, err := c.Poll(context.Background(), 0); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestCommand_Poll_Timeout(t *testing.T) {
	blocking := func(ctx context.Context, cmdline string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	c := NewCommand("scrape", "u", 1, 20*time.Millisecond, WithRunner(blocking))

	_, err := c.Poll(context.Background(), 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestShellRunner(t *testing.T) {
	stdout, _, err := ShellRunner(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("ShellRunner: %v", err)
	}
	if strings.TrimSpace(string(stdout)) != "hello" {
		t.Errorf("unexpected stdout %q", stdout)
	}
}
