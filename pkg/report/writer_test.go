package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriter_WriteItem(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "file")

	item := &ItemRecord{
		ItemID: "file-1",
		Path:   "movies/heat.mp4",
		Action: "moved",
	}

	err := w.WriteItem(context.Background(), item)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeItem, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, "file", record.Source)
	assert.False(t, record.TS.IsZero())

	var itemData ItemRecord
	err = json.Unmarshal(record.Data, &itemData)
	require.NoError(t, err)

	assert.Equal(t, "file-1", itemData.ItemID)
	assert.Equal(t, "movies/heat.mp4", itemData.Path)
	assert.Equal(t, "moved", itemData.Action)
}

func TestJSONLWriter_WriteErrorAndSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "s3")

	err := w.WriteError(context.Background(), &ErrorRecord{
		Code:    ErrCodeThrottled,
		Message: "rate limited",
		ItemID:  "file-2",
	})
	require.NoError(t, err)

	err = w.WriteSummary(context.Background(), &SummaryRecord{
		Status:         "SUCCEEDED",
		TotalItems:     10,
		CompletedItems: 9,
		FailedItems:    1,
		Errors:         1,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, TypeError, first.Type)
	assert.Equal(t, TypeSummary, second.Type)
}

func TestJSONLWriter_ClosedWriterRejectsWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "file")

	require.NoError(t, w.Close())

	err := w.WriteProgress(context.Background(), &ProgressRecord{Phase: PhaseListing})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteItem(ctx, &ItemRecord{ItemID: "x", Action: "new"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_ConcurrentWritesProduceWholeLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&lockedBuffer{buf: &buf}, "job-123", "file")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = w.WriteProgress(context.Background(), &ProgressRecord{
				Phase:          PhaseApplying,
				TotalItems:     20,
				CompletedItems: n,
			})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		var record Record
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, TypeProgress, record.Type)
	}
}

// lockedBuffer makes bytes.Buffer safe for the concurrent write test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func TestWriteError_Unwrap(t *testing.T) {
	inner := context.DeadlineExceeded
	we := &WriteError{Op: "write", Err: inner}
	assert.ErrorIs(t, we, inner)
	assert.Contains(t, we.Error(), "report: write")
}
