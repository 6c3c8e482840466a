package rpmled

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachtalk/tachtalk/pkg/clock"
	"github.com/tachtalk/tachtalk/pkg/shiftlight"
)

type fakeSink struct {
	mu     sync.Mutex
	writes [][]color.RGBA
}

func (f *fakeSink) Write(leds []color.RGBA, brightness byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]color.RGBA, len(leds))
	copy(cp, leds)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakePoller struct {
	mu   sync.Mutex
	cmds []string
}

func (f *fakePoller) SendAsync(cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
}

func (f *fakePoller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

type fakePublisher struct {
	mu   sync.Mutex
	rpms []uint32
}

func (f *fakePublisher) Publish(rpm uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpms = append(f.rpms, rpm)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rpms)
}

func TestRenderOnRPMChange(t *testing.T) {
	c := clock.NewManual(0)
	sink := &fakeSink{}
	poller := &fakePoller{}
	pub := &fakePublisher{}
	task := New(c, sink, poller, pub, logrus.NewEntry(logrus.New()), Config{
		Thresholds: []shiftlight.Threshold{{RPMLower: 0, StartLED: 0, EndLED: 0, Colors: []color.RGBA{{R: 255, A: 255}}}},
		TotalLEDs:  1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)
	defer cancel()

	task.Messages <- Message{Kind: MsgRPM, RPM: 3000}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, sink.count())
	assert.Equal(t, 1, pub.count())

	// Same RPM again: no duplicate SSE publish, but the RPM event always
	// reaches handleMessage (no extra render forced since currentRPM equal).
	task.Messages <- Message{Kind: MsgRPM, RPM: 3000}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, pub.count())
}

func TestIdlePollFiresWhenNoClientActivity(t *testing.T) {
	c := clock.NewManual(0)
	sink := &fakeSink{}
	poller := &fakePoller{}
	pub := &fakePublisher{}
	task := New(c, sink, poller, pub, logrus.NewEntry(logrus.New()), Config{TotalLEDs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) && poller.count() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, poller.count(), 1)
}

func TestConfigChangedRecomputesBlinkInterval(t *testing.T) {
	c := clock.NewManual(0)
	sink := &fakeSink{}
	poller := &fakePoller{}
	pub := &fakePublisher{}
	task := New(c, sink, poller, pub, logrus.NewEntry(logrus.New()), Config{TotalLEDs: 1})
	assert.False(t, task.hasBlinkMS)

	task.SetConfig(Config{
		Thresholds: []shiftlight.Threshold{{Blink: true, BlinkMS: 200}},
		TotalLEDs:  1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)
	defer cancel()

	task.Messages <- Message{Kind: MsgConfigChanged}
	time.Sleep(50 * time.Millisecond)
	assert.True(t, task.hasBlinkMS)
	assert.EqualValues(t, 200, task.blinkIntervalMS)
}
