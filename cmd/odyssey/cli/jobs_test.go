package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-intake/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct {
	info  *asynq.QueueInfo
	retry []*asynq.TaskInfo
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, nil }

func (f *fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func (f *fakeInspector) ListRetryTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.retry, nil
}

func (f *fakeInspector) Close() error { return nil }

func TestJobsCLITrigger(t *testing.T) {
	client := &fakeClient{}
	c := &JobsCLI{client: client, inspector: &fakeInspector{}}

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &out, []string{"trigger", jobs.TaskIdempotencyCleanup}))
	require.Len(t, client.tasks, 1)
	assert.Equal(t, jobs.TaskIdempotencyCleanup, client.tasks[0].Type())
	assert.Contains(t, out.String(), "task-1")

	assert.Error(t, c.Run(context.Background(), &out, []string{"trigger", "unknown"}))
	assert.Error(t, c.Run(context.Background(), &out, []string{"trigger"}))
}

func TestJobsCLIStats(t *testing.T) {
	c := &JobsCLI{client: &fakeClient{}, inspector: &fakeInspector{
		info:  &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1},
		retry: []*asynq.TaskInfo{{ID: "r1", Type: jobs.TaskOrderCreated, Retried: 2, LastErr: "db down"}},
	}}

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &out, []string{"stats"}))
	assert.Contains(t, out.String(), "PENDING")
	assert.Contains(t, out.String(), "default")

	out.Reset()
	require.NoError(t, c.Run(context.Background(), &out, []string{"retrying"}))
	assert.Contains(t, out.String(), "orders:created")
	assert.Contains(t, out.String(), "db down")

	assert.Error(t, c.Run(context.Background(), &out, nil))
	assert.Error(t, c.Run(context.Background(), &out, []string{"bogus"}))
}

func TestJobsCLIRequiresAddr(t *testing.T) {
	_, err := NewJobsCLI(asynq.RedisClientOpt{})
	assert.Error(t, err)
}
