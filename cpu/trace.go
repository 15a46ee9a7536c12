package cpu

import "fmt"

// A Logger receives one line per stage event and per completed tick. The
// default is no logger at all; install one with SetLogger to watch the
// pipeline. The core never writes to stdout itself.
type Logger interface {
	Log(msg string)
}

// SetLogger installs the stage-event sink. Passing nil disables logging.
func (m *Machine) SetLogger(l Logger) { m.logger = l }

func (m *Machine) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Log(fmt.Sprintf(format, args...))
}
