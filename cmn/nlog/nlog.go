// Package nlog is a small leveled logger: Info/Warning/Error severities,
// writing to stderr and to an on-disk log file, with a shared last-write
// timestamp used by callers that want to know "how stale is the log".
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papeline/papeline/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevText = [...]string{"INFO", "WARNING", "ERROR"}

// nlog owns one severity's log file and the mutex guarding writes to it.
type nlog struct {
	mu   sync.Mutex
	w    *bufio.Writer
	file *os.File
	sev  severity
	last atomic.Int64
}

var (
	nlogs   [3]*nlog
	onceDir sync.Once

	logDir       string
	aisrole      string
	title        string
	toStderr     bool
	alsoToStderr bool

	host string
	pid  = os.Getpid()
)

func init() {
	host, _ = os.Hostname()
	for s := sevInfo; s <= sevErr; s++ {
		nlogs[s] = &nlog{sev: s}
	}
}

func ensureOpen() {
	onceDir.Do(func() {
		for _, n := range nlogs {
			n.openLocked()
		}
	})
}

func (n *nlog) openLocked() {
	if toStderr || logDir == "" {
		n.w = bufio.NewWriterSize(os.Stderr, 4096)
		return
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		n.w = bufio.NewWriterSize(os.Stderr, 4096)
		return
	}
	name, _ := logfname(sevText[n.sev], time.Now())
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		n.w = bufio.NewWriterSize(os.Stderr, 4096)
		return
	}
	n.file = f
	n.w = bufio.NewWriterSize(f, 4096)
}

func logfname(tag string, t time.Time) (name, link string) {
	s := "papeline"
	if aisrole != "" {
		s = aisrole
	}
	name = fmt.Sprintf("%s.%s.%s.%02d%02d-%02d%02d%02d.%d.log",
		s, host, tag, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), pid)
	return name, s + "." + tag
}

func log(sev severity, depth int, format string, args ...any) {
	ensureOpen()
	n := nlogs[sev]
	line := sprintf(sev, depth+1, format, args...)

	n.mu.Lock()
	n.w.WriteString(line)
	n.last.Store(mono.NanoTime())
	if alsoToStderr || toStderr || sev >= sevErr {
		n.w.Flush()
		if n.w2() != nil {
			os.Stderr.WriteString(line)
		}
	}
	n.mu.Unlock()

	if sev >= sevWarn {
		e := nlogs[sevErr]
		e.mu.Lock()
		e.w.WriteString(line)
		e.w.Flush()
		e.mu.Unlock()
	}
}

// w2 reports whether stderr mirroring is needed in addition to the file write
// (i.e. the file writer is not itself stderr).
func (n *nlog) w2() *os.File {
	if n.file == nil {
		return nil
	}
	return n.file
}

func sprintf(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte("IWE"[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(2 + depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (n *nlog) since(now int64) time.Duration { return time.Duration(now - n.last.Load()) }
