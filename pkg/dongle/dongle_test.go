package dongle

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tachtalk/tachtalk/pkg/cache"
)

// mockDongle accepts one connection, replies "OK" to every AT command in
// initSequence, "FFFFFFFF" (via 41xx-style header) to supported-PID probes,
// and echoes back a canned RPM response for 010C.
func mockDongle(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\r')
			if err != nil {
				return
			}
			cmd := line[:len(line)-1]
			var resp string
			switch {
			case cmd == "010C":
				resp = "410C1AF8"
			case cache.SupportedPIDsIndex(cmd) >= 0:
				resp = "41" + cmd[2:] + "FFFFFFFF"
			default:
				resp = "OK"
			}
			conn.Write([]byte(resp + "\r>"))
		}
	}()

	go func() {
		<-time.After(2 * time.Second)
		ln.Close()
	}()

	return ln.Addr().String()
}

func TestDongleConnectInitAndProbe(t *testing.T) {
	addr := mockDongle(t)

	var got []string
	var gotMu sync.Mutex
	d := New(addr, 500*time.Millisecond, nil, cache.NewSupportedPIDs(), nil, logrus.NewEntry(logrus.New()), func(cmd string, raw []byte, err error) {
		gotMu.Lock()
		got = append(got, cmd)
		gotMu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go d.Run(ctx)

	deadline := time.Now().Add(900 * time.Millisecond)
	for time.Now().Before(deadline) {
		if d.Connected() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, d.Connected())
	require.True(t, d.supported.Ready())
}

func TestDongleSendSynchronous(t *testing.T) {
	addr := mockDongle(t)

	d := New(addr, 500*time.Millisecond, nil, cache.NewSupportedPIDs(), nil, logrus.NewEntry(logrus.New()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go d.Run(ctx)

	deadline := time.Now().Add(900 * time.Millisecond)
	for time.Now().Before(deadline) && !d.Connected() {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, d.Connected())

	raw, err := d.Send(ctx, "010C")
	require.NoError(t, err)
	require.Equal(t, "410C1AF8", string(raw))
}
