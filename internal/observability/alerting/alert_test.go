package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/safety"
	"OpenEA-Agent/internal/tools"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure})
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined error from channel b, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("both notifiers should receive the event")
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatalf("timestamp should be filled in")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected channels: %v", got)
	}
}

func TestMessagingNotifierPostsScrubbedText(t *testing.T) {
	inner := tools.NewMockMessaging()
	guarded := tools.NewGuardedMessenger(inner, safety.NewGuard())
	n := &MessagingNotifier{Poster: guarded, ChannelID: "#ops"}

	err := n.Notify(context.Background(), Event{
		Code:     "TASK_PROCESSING_FAILED",
		Severity: xerrors.SeverityWarning,
		Message:  "owner ops@example.com",
		TaskID:   "t1",
		User:     "u1",
		Stage:    "terminal",
		Metadata: map[string]string{"b": "2", "a": "1"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	posts := inner.Posts()
	if len(posts) != 1 || posts[0].Channel != "#ops" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if strings.Contains(posts[0].Text, "@") || !strings.Contains(posts[0].Text, "ops[at]example.com") {
		t.Fatalf("alert text should be scrubbed: %q", posts[0].Text)
	}
	if strings.Index(posts[0].Text, "- a: 1") > strings.Index(posts[0].Text, "- b: 2") {
		t.Fatalf("metadata should be sorted: %q", posts[0].Text)
	}
}

func TestMessagingNotifierReportsBlockedAlert(t *testing.T) {
	guarded := tools.NewGuardedMessenger(tools.NewMockMessaging(), safety.NewGuard("password"))
	n := &MessagingNotifier{Poster: guarded, ChannelID: "#ops"}
	if err := n.Notify(context.Background(), Event{Message: "password leaked"}); err == nil {
		t.Fatalf("expected blocked error")
	}
}

func TestMessagingNotifierSkipsWhenUnconfigured(t *testing.T) {
	var n *MessagingNotifier
	if err := n.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
	if err := (LogNotifier{}).Notify(context.Background(), Event{Severity: xerrors.SeverityCritical}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}
