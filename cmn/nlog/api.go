package nlog

import (
	"flag"
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// SetLogDirRole configures the on-disk log directory and the role tag used in
// log file names (e.g. "papeline-run"). Must be called before the first log
// call to take effect; subsequent calls are ignored once files are open.
func SetLogDirRole(dir, role string) { logDir, aisrole = dir, role }
func SetTitle(s string)              { title = s }

func InfoLogName() string { return nlogs[sevInfo].currentName() }
func ErrLogName() string  { return nlogs[sevErr].currentName() }

func (n *nlog) currentName() string {
	if n.file == nil {
		return ""
	}
	return n.file.Name()
}

// Flush flushes all severities' buffered writers; when exit is true, also
// syncs and closes the underlying files. cmd/papeline calls nlog.Flush(true)
// right before each os.Exit so buffered log lines aren't lost on process exit.
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	ensureOpen()
	for _, n := range nlogs {
		n.mu.Lock()
		n.w.Flush()
		if ex && n.file != nil {
			n.file.Sync()
			n.file.Close()
		}
		n.mu.Unlock()
	}
}
