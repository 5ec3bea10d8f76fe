//go:build integration

package kafkalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	containerKit "github.com/superj80820/streamproc/kit/testing/kafka/container"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/logstream/kafkalog"
)

// TestKafkalogAppendAndReadRoundTrip exercises the real kafka-go dial and
// kit/mq.Produce path against a containerized broker, the way the
// teacher's mq tests bring up a real cluster instead of faking the wire
// protocol.
func TestKafkalogAppendAndReadRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	container, err := containerKit.CreateKafka(ctx)
	require.NoError(t, err)
	defer container.Terminate(context.Background())

	log, err := kafkalog.Open(ctx, container.GetURI(), "streamproc-integration-test", 0)
	require.NoError(t, err)
	defer log.Close()

	writer := log.Writer()
	defer writer.Close()

	pos, err := writer.ProducerID("producer-a").SourceRecordPosition(logstream.NoPosition).Append(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(pos), int64(0))

	reader := log.Reader()
	defer reader.Close()

	found, err := reader.Seek(ctx, 0)
	require.NoError(t, err)
	require.True(t, found)

	record, err := reader.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "producer-a", record.ProducerID)
	assert.Equal(t, []byte("hello"), record.Payload)

	commitPos, err := reader.CommitPosition(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(commitPos), int64(0))
}
