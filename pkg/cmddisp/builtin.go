package cmddisp

import (
	"context"
	"strings"
)

// Built-in opcodes.
const (
	OpNoOp  uint32 = 0x00
	OpPing  uint32 = 0x01
	OpStats uint32 = 0x02
	OpTodo  uint32 = 0x03
)

// StatsReporter reports component statistics as text lines.
type StatsReporter interface {
	ReportStats(ctx context.Context) []string
}

// StatsReporterFunc is the func form of StatsReporter.
type StatsReporterFunc func(context.Context) []string

// ReportStats implements StatsReporter.
func (f StatsReporterFunc) ReportStats(ctx context.Context) []string {
	return f(ctx)
}

// RegisterBuiltins registers NO_OP, PING, STATS and TODO.
// reporter may be nil. STATS keeps the leading lines that fit in a response.
func RegisterBuiltins(d *Dispatcher, reporter StatsReporter) error {
	builtins := []Registration{
		{OpNoOp, "NO_OP", HandlerFunc(func(context.Context, *Command) Result {
			return OK(nil)
		})},
		{OpPing, "PING", HandlerFunc(func(ctx context.Context, cmd *Command) Result {
			return OK(cmd.Args)
		})},
		{OpStats, "STATS", HandlerFunc(func(ctx context.Context, cmd *Command) Result {
			if reporter == nil {
				return NotImplemented
			}
			return OK(joinLines(reporter.ReportStats(ctx), d.ResponseCapacity(cmd)))
		})},
		{OpTodo, "TODO", NotImplementedHandler},
	}
	for _, reg := range builtins {
		if err := d.Register(reg.Opcode, reg.Name, reg.Handler); err != nil {
			return err
		}
	}
	return nil
}

// joinLines joins whole lines up to limit bytes. A negative limit keeps all.
func joinLines(lines []string, limit int) []byte {
	var sb strings.Builder
	for n, line := range lines {
		size := len(line)
		if n > 0 {
			size++
		}
		if limit >= 0 && sb.Len()+size > limit {
			break
		}
		if n > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	return []byte(sb.String())
}
