package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkCoordinatorAcquireReleaseTracksParallelism(t *testing.T) {
	c := NewBulkCoordinator()
	c.Register("bulk-1", 1, false, 2)

	release1, aborted, err := c.Acquire(context.Background(), "bulk-1")
	require.NoError(t, err)
	assert.False(t, aborted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = c.Acquire(ctx, "bulk-1")
	assert.Error(t, err, "second acquire should block until release, context already cancelled")

	release1()

	release2, aborted, err := c.Acquire(context.Background(), "bulk-1")
	require.NoError(t, err)
	assert.False(t, aborted)
	release2()
}

func TestBulkCoordinatorReportFailureTripsAbortOnlyWithStopOnError(t *testing.T) {
	c := NewBulkCoordinator()
	c.Register("bulk-nostop", 2, false, 1)
	c.ReportFailure("bulk-nostop")
	assert.False(t, c.Aborted("bulk-nostop"))

	c.Register("bulk-stop", 2, true, 1)
	c.ReportFailure("bulk-stop")
	assert.True(t, c.Aborted("bulk-stop"))
}

func TestBulkCoordinatorEmptyBulkIDIsNoop(t *testing.T) {
	c := NewBulkCoordinator()
	release, aborted, err := c.Acquire(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, aborted)
	release()
	assert.False(t, c.Aborted(""))
}

func TestBulkCoordinatorTearsDownAfterAllPendingResolved(t *testing.T) {
	c := NewBulkCoordinator()
	c.Register("bulk-1", 3, false, 2)

	release1, _, err := c.Acquire(context.Background(), "bulk-1")
	require.NoError(t, err)
	release2, _, err := c.Acquire(context.Background(), "bulk-1")
	require.NoError(t, err)

	release1()
	assert.True(t, func() bool { _, ok := c.bulks["bulk-1"]; return ok }())

	release2()
	_, ok := c.bulks["bulk-1"]
	assert.False(t, ok, "bulk entry should be torn down once every registered job has resolved")
}

func TestBulkCoordinatorDiscardPendingTearsDownOnZero(t *testing.T) {
	c := NewBulkCoordinator()
	c.Register("bulk-1", 2, true, 3)

	release, _, err := c.Acquire(context.Background(), "bulk-1")
	require.NoError(t, err)
	release()

	c.DiscardPending("bulk-1", 2)
	_, ok := c.bulks["bulk-1"]
	assert.False(t, ok)
}
