package netstat

import "github.com/sirupsen/logrus"

// LogReporter returns a ReportFn that logs each lifecycle event through log,
// in the same single structured-line idiom as the teacher's
// cmd/get/main.go reportStats.
func LogReporter(log *logrus.Entry) ReportFn {
	return func(c *Conn, state State) {
		fields := logrus.Fields{
			"role":       string(c.Role),
			"openedAt":   c.OpenedAt,
			"closedAt":   c.ClosedAt,
			"rxBytes":    c.RxBytes,
			"txBytes":    c.TxBytes,
			"reconnects": c.Reconnects,
		}
		if c.RxErr != nil {
			fields["rxErr"] = c.RxErr.Error()
		}
		if c.TxErr != nil {
			fields["txErr"] = c.TxErr.Error()
		}
		if c.InfoErr != nil {
			fields["infoErr"] = c.InfoErr.Error()
		}
		info := c.OpenedInfo
		if state == Closed {
			info = c.ClosedInfo
		}
		if info != nil {
			fields["rtt"] = info.RTT.String()
			fields["rttVar"] = info.RTTVar.String()
			fields["retransmits"] = info.Retransmits
		}
		log.WithFields(fields).Debugf("connection %s", StateMap[state])
	}
}
