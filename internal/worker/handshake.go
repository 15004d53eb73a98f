package worker

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// portPrefix announces the worker's bound port on stdout: PORT:<decimal-uint16>.
const portPrefix = "PORT:"

// ParsePortLine extracts the announced port from a worker stdout line.
// The line may carry surrounding whitespace; the digits must parse as a
// 16-bit unsigned integer. Anything else is a diagnostic line.
func ParsePortLine(line string) (uint16, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), portPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// forwardOutput consumes one output stream line by line until EOF,
// appending every line to the log ring and the structured log. When
// announce is non-nil the stream is also scanned for the port handshake;
// scanning stops after the first valid announcement while forwarding
// continues for the process's remaining lifetime.
func (s *Supervisor) forwardOutput(r io.Reader, stream string, announce func(uint16)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if announce != nil {
			if port, ok := ParsePortLine(line); ok {
				announce(port)
				announce = nil
				continue
			}
		}
		s.ring.Append("[" + stream + "] " + line)
		s.logger.Debug("worker output", "stream", stream, "line", line)
	}
}
