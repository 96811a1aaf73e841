package shdr

import (
	"strconv"
	"strings"
	"time"
)

const (
	pingCommand = "* PING"
	pongCommand = "* PONG"
)

// IsPing reports whether a line received from an agent is a heartbeat ping.
func IsPing(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), pingCommand)
}

// PongLine answers a ping, advertising the heartbeat interval in
// milliseconds. The agent treats the connection as dead after twice that
// interval without data.
func PongLine(heartbeat time.Duration) string {
	return pongCommand + " " + strconv.FormatInt(heartbeat.Milliseconds(), 10)
}
