package loggingx

import (
	"fmt"
	"strings"

	"github.com/dogmatiq/dodeca/logging"
)

// WithPrefix returns a logger that prefixes each message with the given
// formatted text.
func WithPrefix(target logging.Logger, f string, v ...any) logging.Logger {
	prefix := fmt.Sprintf(f, v...)

	return &prefixer{
		target: target,
		prefix: prefix,
		format: strings.ReplaceAll(prefix, "%", "%%"),
	}
}

type prefixer struct {
	target logging.Logger
	prefix string
	format string
}

func (p *prefixer) Log(f string, v ...any) {
	logging.Log(p.target, p.format+f, v...)
}

func (p *prefixer) LogString(s string) {
	logging.LogString(p.target, p.prefix+s)
}

func (p *prefixer) Debug(f string, v ...any) {
	logging.Debug(p.target, p.format+f, v...)
}

func (p *prefixer) DebugString(s string) {
	logging.Debug(p.target, "%s", p.prefix+s)
}

func (p *prefixer) IsDebug() bool {
	return logging.IsDebug(p.target)
}
