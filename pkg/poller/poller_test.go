package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	plan         []string
	maintainCalls int
}

func (f *fakeScheduler) PollPlan() []string {
	return f.plan
}

func (f *fakeScheduler) Maintain() {
	f.maintainCalls++
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendAsync(cmd string) {
	f.sent = append(f.sent, cmd)
}

func TestTickSendsPlanThenMaintains(t *testing.T) {
	sched := &fakeScheduler{plan: []string{"010C", "0105"}}
	sender := &fakeSender{}
	p := New(sched, sender, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	require.NotEmpty(t, sender.sent)
	assert.Equal(t, []string{"010C", "0105"}, sender.sent[:2])
	assert.Greater(t, sched.maintainCalls, 0)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sched := &fakeScheduler{}
	sender := &fakeSender{}
	p := New(sched, sender, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
