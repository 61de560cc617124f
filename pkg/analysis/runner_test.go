package analysis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/golumen/pkg/library"
	"github.com/3leaps/golumen/pkg/poller"
	"github.com/3leaps/golumen/pkg/retry"
)

// fakeClient scripts submit and poll behavior for runner tests.
type fakeClient struct {
	mu          sync.Mutex
	submitErrs  []error
	submitCalls int
	pollStates  []poller.Status
	pollErrs    []error
	pollCalls   int
}

func (f *fakeClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.submitCalls
	f.submitCalls++
	if call < len(f.submitErrs) && f.submitErrs[call] != nil {
		return "", f.submitErrs[call]
	}
	return "ext-1", nil
}

func (f *fakeClient) Poll(ctx context.Context, externalJobID string) (poller.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.pollCalls
	f.pollCalls++
	if call < len(f.pollErrs) && f.pollErrs[call] != nil {
		return poller.Status{}, f.pollErrs[call]
	}
	idx := call
	if idx >= len(f.pollStates) {
		idx = len(f.pollStates) - 1
	}
	return f.pollStates[idx], nil
}

func fastPolicy() retry.Policy {
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func newTestRunner(t *testing.T, client Client) (*Runner, *library.Store) {
	t.Helper()
	store, err := library.Open(context.Background(), library.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := NewRunner(store, client, zap.NewNop(),
		WithRetryPolicy(fastPolicy()),
		WithPollInterval(time.Millisecond),
		WithPollerOptions(poller.WithCacheTTL(time.Nanosecond)))
	return r, store
}

func addFile(t *testing.T, store *library.Store) *library.MediaFile {
	t.Helper()
	mf, err := store.AddFile(context.Background(), "movies/heat.mp4", 4096, time.Now().UTC())
	require.NoError(t, err)
	return mf
}

func TestProcessFile_StoresCompletedResult(t *testing.T) {
	client := &fakeClient{
		pollStates: []poller.Status{
			{State: StateQueued},
			{State: StateRunning},
			{State: StateCompleted, Terminal: true, Payload: json.RawMessage(`{"state":"completed","result":{"objects":3}}`)},
		},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, KindDetect)
	require.NoError(t, err)

	res, err := store.GetResult(context.Background(), mf.FileID, "detect")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.Status)
	assert.Equal(t, "ext-1", res.ExternalJobID)
	assert.JSONEq(t, `{"state":"completed","result":{"objects":3}}`, string(res.Payload))
}

func TestProcessFile_SubmitRetriesTransient(t *testing.T) {
	client := &fakeClient{
		submitErrs: []error{ErrThrottled},
		pollStates: []poller.Status{{State: StateCompleted, Terminal: true}},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, KindSummarize)
	require.NoError(t, err)
	assert.Equal(t, 2, client.submitCalls)
}

func TestProcessFile_SubmitPermanentFailsImmediately(t *testing.T) {
	client := &fakeClient{
		submitErrs: []error{ErrRejected, ErrRejected, ErrRejected},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, KindDetect)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, client.submitCalls)
}

func TestProcessFile_FailedAnalysisIsItemError(t *testing.T) {
	client := &fakeClient{
		pollStates: []poller.Status{{State: StateFailed, Terminal: true}},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, KindTranscribe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended failed")

	_, err = store.GetResult(context.Background(), mf.FileID, "transcribe")
	assert.ErrorIs(t, err, library.ErrResultNotFound)
}

func TestProcessFile_MalformedResultIsItemError(t *testing.T) {
	client := &fakeClient{
		pollStates: []poller.Status{
			{State: StateCompleted, Terminal: true, Payload: json.RawMessage(`{"state":`)},
		},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, KindDetect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed result")
}

func TestProcessFile_UnknownFile(t *testing.T) {
	r, _ := newTestRunner(t, &fakeClient{})

	err := r.ProcessFile(context.Background(), "nope", KindDetect)
	assert.ErrorIs(t, err, library.ErrFileNotFound)
}

func TestProcessFile_UnknownKind(t *testing.T) {
	r, store := newTestRunner(t, &fakeClient{})
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, Kind("enhance"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analysis kind")
}

func TestProcessFile_ConsecutivePollFailuresFailTheItem(t *testing.T) {
	pollErrs := make([]error, maxPollFailures)
	for i := range pollErrs {
		pollErrs[i] = ErrServiceUnavailable
	}
	client := &fakeClient{
		pollErrs:   pollErrs,
		pollStates: []poller.Status{{State: StateRunning}},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	err := r.ProcessFile(context.Background(), mf.FileID, KindDetect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive poll failures")
}

func TestProcessFile_CancelDuringPollWait(t *testing.T) {
	client := &fakeClient{
		pollStates: []poller.Status{{State: StateRunning}},
	}
	r, store := newTestRunner(t, client)
	mf := addFile(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ProcessFile(ctx, mf.FileID, KindDetect) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessFile did not return after cancel")
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	require.NotNil(t, p.Classify)
	assert.True(t, p.Classify(ErrThrottled))
	assert.True(t, p.Classify(ErrServiceUnavailable))
	assert.False(t, p.Classify(ErrRejected))
	assert.Greater(t, p.MaxAttempts, 1)
	assert.Positive(t, p.BaseDelay)
}
