package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"
	temporalmocks "go.temporal.io/sdk/mocks"
)

type recordingStarter struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (r *recordingStarter) StartAnchor(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
	return r.err
}

func (r *recordingStarter) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func TestAnchorQueue_StartsEnqueuedCertificates(t *testing.T) {
	starter := &recordingStarter{}
	q := NewAnchorQueue(zerolog.Nop(), starter, 4)

	done := make(chan struct{})
	go func() {
		q.Run(context.Background())
		close(done)
	}()

	q.Enqueue("c1")
	q.Enqueue("c2")

	require.Eventually(t, func() bool { return len(starter.ids()) == 2 }, time.Second, 5*time.Millisecond)
	q.Close()
	<-done

	assert.Equal(t, []string{"c1", "c2"}, starter.ids())
}

func TestAnchorQueue_FullQueueDrops(t *testing.T) {
	starter := &recordingStarter{}
	q := NewAnchorQueue(zerolog.Nop(), starter, 1)

	q.Enqueue("kept")
	q.Enqueue("dropped")
	q.Close()
	q.Run(context.Background())

	assert.Equal(t, []string{"kept"}, starter.ids())
}

func TestAnchorQueue_EnqueueAfterCloseIsIgnored(t *testing.T) {
	starter := &recordingStarter{}
	q := NewAnchorQueue(zerolog.Nop(), starter, 4)
	q.Close()
	q.Close()

	q.Enqueue("late")
	q.Run(context.Background())

	assert.Empty(t, starter.ids())
}

func TestAnchorQueue_StarterErrorDoesNotStopQueue(t *testing.T) {
	starter := &recordingStarter{err: errors.New("temporal down")}
	q := NewAnchorQueue(zerolog.Nop(), starter, 4)

	q.Enqueue("c1")
	q.Enqueue("c2")
	q.Close()
	q.Run(context.Background())

	assert.Equal(t, []string{"c1", "c2"}, starter.ids())
}

func TestAnchorQueue_CancelledContextDrainsBuffer(t *testing.T) {
	starter := &recordingStarter{}
	q := NewAnchorQueue(zerolog.Nop(), starter, 4)
	q.Enqueue("c1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	assert.Equal(t, []string{"c1"}, starter.ids())
}

func TestTemporalStarter_StartAnchor(t *testing.T) {
	tc := &temporalmocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(opts temporalclient.StartWorkflowOptions) bool {
			return opts.ID == "anchor-c1" && opts.TaskQueue == TaskQueue
		}),
		AnchorWorkflowName, "c1",
	).Return(&temporalmocks.WorkflowRun{}, nil)

	err := NewTemporalStarter(tc).StartAnchor(context.Background(), "c1")
	require.NoError(t, err)
	tc.AssertExpectations(t)
}

func TestTemporalStarter_StartAnchorError(t *testing.T) {
	tc := &temporalmocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, AnchorWorkflowName, mock.Anything).
		Return(nil, errors.New("temporal down"))

	err := NewTemporalStarter(tc).StartAnchor(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start anchor workflow for c1")
}
