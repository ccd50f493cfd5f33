// Package jobctx implements JobContext: the per-job shared state that
// BackupFSM/RestoreFSM mutate and HeartbeatMonitor reads.
//
// Counter shape is grounded on rclone's legacy top-level
// accounting.go Stats struct (mutex + counters); the rate meter wires
// golang.org/x/time/rate, the same token-bucket shape rclone's
// fs/accounting tests (tpslimit_test.go, token_bucket_test.go) exercise
// — the pack kept only those tests, not fs/accounting's source.
package jobctx

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/fametec/filed/digest"
)

// Status is the final job status reported to the caller.
type Status int

const (
	StatusUnknown Status = iota
	StatusTerminated
	StatusWarnings
	StatusErrorTerminated
	StatusFatalError
	StatusCanceled
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusTerminated:
		return "Terminated"
	case StatusWarnings:
		return "Warnings"
	case StatusErrorTerminated:
		return "ErrorTerminated"
	case StatusFatalError:
		return "FatalError"
	case StatusCanceled:
		return "Canceled"
	case StatusIncomplete:
		return "Incomplete"
	default:
		return "Unknown"
	}
}

// RateMeter throttles bytes/sec using a token bucket, the JobContext
// "rate meter state" field.
type RateMeter struct {
	limiter *rate.Limiter
}

// NewRateMeter builds a RateMeter capped at bytesPerSec; a limit of 0
// means unlimited.
func NewRateMeter(bytesPerSec int) *RateMeter {
	if bytesPerSec <= 0 {
		return &RateMeter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateMeter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)}
}

// WaitN blocks until n bytes' worth of budget is available, or ctx is
// canceled.
func (m *RateMeter) WaitN(ctx context.Context, n int) error {
	return m.limiter.WaitN(ctx, n)
}

// Context is the per-job shared state. Counter fields are
// atomic; LastFilename is protected by mu, per the stated
// invariant ("counter updates are atomic and last-filename updates
// hold a per-job lock").
type Context struct {
	mu           sync.Mutex
	lastFilename string
	errMsg       string

	filesExamined int64
	filesSent     int64
	bytesSent     int64
	bytesRead     int64
	jobErrors     int64

	aclErrors   int64
	xattrErrors int64

	// ACLMaxErrors/XattrMaxErrors are the per-job caps on ACL/xattr
	// backend errors; once exceeded, further backend errors are
	// silently counted rather than logged.
	ACLMaxErrors   int64
	XattrMaxErrors int64

	FileDigestAlgo  digest.Type
	SignerAlgo      digest.Type
	Rate            *RateMeter
	cancel          atomic.Bool

	// currentDataStream records the stream id chosen for the file
	// currently being processed. It is not part of Snapshot, so
	// HeartbeatMonitor does not report it.
	currentDataStream atomic.Int32
}

// New constructs a Context with the given digest selectors and an
// optional rate cap (0 = unlimited).
func New(fileDigest, signerDigest digest.Type, bytesPerSec int) *Context {
	return &Context{
		FileDigestAlgo: fileDigest,
		SignerAlgo:     signerDigest,
		Rate:           NewRateMeter(bytesPerSec),
		ACLMaxErrors:   100,
		XattrMaxErrors: 100,
	}
}

// Cancel requests cooperative cancellation.
func (c *Context) Cancel() { c.cancel.Store(true) }

// Canceled reports whether Cancel has been called.
func (c *Context) Canceled() bool { return c.cancel.Load() }

// SetCurrentDataStream records the stream id of the file in flight.
func (c *Context) SetCurrentDataStream(id int32) { c.currentDataStream.Store(id) }

// CurrentDataStream reads the stream id of the file in flight.
func (c *Context) CurrentDataStream() int32 { return c.currentDataStream.Load() }

// IncFilesExamined increments files_examined and returns the new value.
func (c *Context) IncFilesExamined() int64 { return atomic.AddInt64(&c.filesExamined, 1) }

// IncFilesSent increments files_sent and returns the new value, which
// is also the file_index assigned to that
// file.
func (c *Context) IncFilesSent() int64 { return atomic.AddInt64(&c.filesSent, 1) }

// AddBytesSent adds n to bytes_sent.
func (c *Context) AddBytesSent(n int64) { atomic.AddInt64(&c.bytesSent, n) }

// AddBytesRead adds n to bytes_read.
func (c *Context) AddBytesRead(n int64) { atomic.AddInt64(&c.bytesRead, n) }

// IncJobErrors increments job_errors.
func (c *Context) IncJobErrors() int64 { return atomic.AddInt64(&c.jobErrors, 1) }

// RecordACLError increments the ACL error counter and reports whether
// the per-job cap has been exceeded.
func (c *Context) RecordACLError() (exceeded bool) {
	n := atomic.AddInt64(&c.aclErrors, 1)
	return n > c.ACLMaxErrors
}

// RecordXattrError increments the xattr error counter and reports
// whether the per-job cap has been exceeded.
func (c *Context) RecordXattrError() (exceeded bool) {
	n := atomic.AddInt64(&c.xattrErrors, 1)
	return n > c.XattrMaxErrors
}

// SetLastFilename records the file currently in flight under the
// per-job lock.
func (c *Context) SetLastFilename(name string) {
	c.mu.Lock()
	c.lastFilename = name
	c.mu.Unlock()
}

// LastFilename reads the file currently in flight.
func (c *Context) LastFilename() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFilename
}

// SetErrMsg records the most recent fatal/file error message.
func (c *Context) SetErrMsg(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
}

// ErrMsg reads the most recent error message.
func (c *Context) ErrMsg() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Snapshot is an atomic read of the counters, suitable for
// HeartbeatMonitor's periodic progress ticks.
type Snapshot struct {
	FilesExamined int64
	FilesSent     int64
	BytesSent     int64
	BytesRead     int64
	JobErrors     int64
	ACLErrors     int64
	XattrErrors   int64
	LastFilename  string
}

// Snapshot reads all counters. HeartbeatMonitor has no access to the
// data stream — only to this.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		FilesExamined: atomic.LoadInt64(&c.filesExamined),
		FilesSent:     atomic.LoadInt64(&c.filesSent),
		BytesSent:     atomic.LoadInt64(&c.bytesSent),
		BytesRead:     atomic.LoadInt64(&c.bytesRead),
		JobErrors:     atomic.LoadInt64(&c.jobErrors),
		ACLErrors:     atomic.LoadInt64(&c.aclErrors),
		XattrErrors:   atomic.LoadInt64(&c.xattrErrors),
		LastFilename:  c.LastFilename(),
	}
}
