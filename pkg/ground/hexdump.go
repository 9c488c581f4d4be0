package ground

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// HexDump formats data as offset, 16 hex bytes split after 8, and the
// printable ASCII column.
func HexDump(data []byte) string {
	return hex.Dump(data)
}

// Monitor writes link traffic to Out as hex dumps.
type Monitor struct {
	Out io.Writer
	Now func() time.Time

	lock sync.Mutex
}

// NewMonitor creates a Monitor writing to w.
func NewMonitor(w io.Writer) *Monitor {
	return &Monitor{Out: w, Now: time.Now}
}

// Tap implements TapFunc.
func (m *Monitor) Tap(dir Direction, data []byte) {
	m.lock.Lock()
	defer m.lock.Unlock()
	fmt.Fprintf(m.Out, "%s %s %d bytes\n", m.Now().Format("15:04:05.000"), dir, len(data))
	dumper := hex.Dumper(m.Out)
	dumper.Write(data)
	dumper.Close()
}
