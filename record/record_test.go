package record_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fametec/filed/record"
	"github.com/fametec/filed/streamid"
)

func TestByteLinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	link := record.NewByteLink(&buf, &buf)
	codec := record.NewCodec(link)

	require.NoError(t, codec.SendRecord(1, streamid.UnixAttributes, []byte("hello")))
	require.NoError(t, codec.SendRecord(1, streamid.FileData, []byte("world")))
	require.NoError(t, codec.SignalEOD())

	rec, err := codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.FileIndex)
	assert.Equal(t, streamid.UnixAttributes, rec.StreamID)
	assert.Equal(t, []byte("hello"), rec.Payload)

	rec, err = codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.FileData, rec.StreamID)
	assert.Equal(t, []byte("world"), rec.Payload)

	rec, err = codec.RecvRecord()
	require.NoError(t, err)
	assert.Equal(t, streamid.EndOfData, rec.StreamID)
	assert.Equal(t, 0, len(rec.Payload))
}

func TestSendRecordErrorIsFatal(t *testing.T) {
	link := record.NewByteLink(failingWriter{}, bytes.NewReader(nil))
	codec := record.NewCodec(link)
	err := codec.SendRecord(1, streamid.FileData, []byte("x"))
	require.Error(t, err)
	var fatal *record.FatalError
	assert.ErrorAs(t, err, &fatal)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, assert.AnError
}
