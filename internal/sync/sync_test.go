package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func TestSchedulerStartStop(t *testing.T) {
	ms := newMockSource()
	ms.addNamespace("ns-1", "billing")
	ms.addItem("ns-1", "db.url", `"postgres://db"`, false)

	dest := &mockDestination{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sched := NewScheduler(ms, []Destination{dest}, 50*time.Millisecond, logger)
	sched.Start()

	// Wait for at least the initial sync + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}

	data, ok := dest.last.Load().([]byte)
	if !ok || len(data) == 0 {
		t.Fatal("expected non-empty data")
	}

	lines := nonEmptyLines(string(data))
	// 1 header + 1 namespace + 1 item
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sched := NewScheduler(newMockSource(), nil, time.Minute, logger)
	// Stop without Start should not panic.
	sched.Stop()
}

func TestSchedulerFailingDestinationDoesNotBlockOthers(t *testing.T) {
	bad := &mockDestination{err: errors.New("unreachable")}
	good := &mockDestination{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched := NewScheduler(newMockSource(), []Destination{bad, good}, time.Second, logger)
	sched.Start()

	// Wait for the initial sync.
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	if bad.writes.Load() < 1 {
		t.Fatal("bad destination expected at least 1 write")
	}
	if good.writes.Load() < 1 {
		t.Fatal("good destination expected at least 1 write")
	}
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakeS3{}
	d := &S3Destination{client: fake, bucket: "backups", key: "confhub/backup.jsonl"}

	require.NoError(t, d.Write(context.Background(), []byte("{}\n")))
	assert.Equal(t, "backups", *fake.input.Bucket)
	assert.Equal(t, "confhub/backup.jsonl", *fake.input.Key)
	assert.Equal(t, "application/x-ndjson", *fake.input.ContentType)
	assert.True(t, bytes.Equal([]byte("{}\n"), fake.body))

	fake.err = errors.New("denied")
	err := d.Write(context.Background(), []byte("x"))
	assert.ErrorContains(t, err, "s3 put object")
}

func TestNewS3Destination_CustomEndpoint(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	d, err := NewS3Destination(context.Background(), "b", "k", "us-east-1", "http://minio:9000")
	require.NoError(t, err)
	assert.Equal(t, "b", d.bucket)
	assert.NotNil(t, d.client)
}
