package proxy

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachtalk/tachtalk/pkg/cache"
	"github.com/tachtalk/tachtalk/pkg/clock"
)

type fakeForwarder struct {
	raw []byte
	err error
}

func (f *fakeForwarder) Send(ctx context.Context, cmd string) ([]byte, error) {
	return f.raw, f.err
}

type fakeRPMPublisher struct {
	rpms []uint32
}

func (f *fakeRPMPublisher) PublishRPM(rpm uint32) {
	f.rpms = append(f.rpms, rpm)
}

func newTestSession(t *testing.T, fwd Forwarder, rpm RPMPublisher) (*session, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := cache.NewCache(clock.NewManual(0))
	log := logrus.NewEntry(logrus.New())
	sess := newSession(serverSide, c, fwd, nil, rpm, log)
	return sess, clientSide
}

func TestHandleLineEmptyWritesPrompt(t *testing.T) {
	sess, client := newTestSession(t, &fakeForwarder{}, nil)
	go sess.handleLine(context.Background(), "")

	buf := make([]byte, 1)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ">", string(buf[:n]))
}

func TestHandleLineATCommand(t *testing.T) {
	sess, client := newTestSession(t, &fakeForwarder{}, nil)
	go sess.handleLine(context.Background(), "ATE0")

	r := bufio.NewReader(client)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	out, err := r.ReadString('>')
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
}

func TestHandleOBDCacheMissForwardsAndPublishesRPM(t *testing.T) {
	pub := &fakeRPMPublisher{}
	sess, client := newTestSession(t, &fakeForwarder{raw: []byte("410C1AF8")}, pub)

	go sess.handleLine(context.Background(), "010C")

	r := bufio.NewReader(client)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := r.ReadString('>')
	require.NoError(t, err)

	require.Len(t, pub.rpms, 1)
	assert.EqualValues(t, 1726, pub.rpms[0])
}

func TestHandleOBDUnsupportedPIDReturnsNoData(t *testing.T) {
	sess, client := newTestSession(t, &fakeForwarder{}, nil)
	sess.cache.Supported().Reset()
	for i, q := range cache.SupportedPIDQueries {
		sess.cache.Supported().Record(i, []byte("41"+q[2:]+" 00000000"))
	}

	go sess.handleLine(context.Background(), "0199")

	r := bufio.NewReader(client)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	out, err := r.ReadString('>')
	require.NoError(t, err)
	assert.Contains(t, out, "NO DATA")
}

func TestRepeatLastCommandWithNoHistoryAsksQuestionMark(t *testing.T) {
	sess, client := newTestSession(t, &fakeForwarder{}, nil)
	go sess.handleLine(context.Background(), "1")

	r := bufio.NewReader(client)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	out, err := r.ReadString('>')
	require.NoError(t, err)
	assert.Contains(t, out, "?")
}
