package notify

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	name     string
	err      error
	subjects []string
	bodies   []string
}

func (f *fakeSender) Send(ctx context.Context, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyFansOut(t *testing.T) {
	a := &fakeSender{name: "telegram"}
	b := &fakeSender{name: "discord"}
	n := New([]Sender{a, b}, nil, slog.Default())

	n.Notify(context.Background(), "order_filled", "order abc filled")

	assert.Equal(t, []string{"ORDER FILLED"}, a.subjects)
	assert.Equal(t, []string{"order abc filled"}, a.bodies)
	assert.Equal(t, []string{"ORDER FILLED"}, b.subjects)
}

func TestNotifyEventFilter(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := New([]Sender{s}, []string{"order_filled"}, slog.Default())

	n.Notify(context.Background(), "order_placed", "noise")
	assert.Empty(t, s.subjects)

	n.Notify(context.Background(), "order_filled", "signal")
	assert.Len(t, s.subjects, 1)
}

func TestNotifyFailedSenderDoesNotBlockOthers(t *testing.T) {
	dead := &fakeSender{name: "telegram", err: fmt.Errorf("chat not found")}
	live := &fakeSender{name: "discord"}
	n := New([]Sender{dead, live}, nil, slog.Default())

	n.Notify(context.Background(), "order_failed", "order abc failed")

	assert.Len(t, live.subjects, 1)
}

func TestNotifySurvivesCancelledContext(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := New([]Sender{s}, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n.Notify(ctx, "order_filled", "late but still delivered")
	assert.Len(t, s.subjects, 1, "delivery must outlive the caller's context")
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "TOKEN MIGRATED", subjectFor("token_migrated"))
	assert.Equal(t, "ORDER FILLED", subjectFor("order_filled"))
}
