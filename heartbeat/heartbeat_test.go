package heartbeat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/digest"
	"github.com/fametec/filed/heartbeat"
	"github.com/fametec/filed/jobctx"
)

func TestMonitorReportsSnapshots(t *testing.T) {
	ctx := jobctx.New(digest.None, digest.None, 0)
	ctx.IncFilesExamined()
	ctx.AddBytesSent(42)

	reports := make(chan jobctx.Snapshot, 8)
	mon := heartbeat.New(ctx, 5*time.Millisecond, func(s jobctx.Snapshot) {
		reports <- s
	})

	runCtx, cancel := context.WithCancel(context.Background())
	go mon.Start(runCtx)

	select {
	case s := <-reports:
		assert.Equal(t, int64(1), s.FilesExamined)
		assert.Equal(t, int64(42), s.BytesSent)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a heartbeat report")
	}

	cancel()
}

func TestMonitorStopBlocksUntilDone(t *testing.T) {
	ctx := jobctx.New(digest.None, digest.None, 0)
	mon := heartbeat.New(ctx, time.Millisecond, func(jobctx.Snapshot) {})

	go mon.Start(context.Background())
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		mon.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	require.NotNil(t, mon)
}
