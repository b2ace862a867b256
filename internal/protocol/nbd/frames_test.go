package nbd

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteGreeting(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGreeting(&buf, FlagFixedNewstyle))

	out := buf.Bytes()
	require.Len(t, out, 18)
	assert.Equal(t, []byte("NBDMAGIC"), out[:8])
	assert.Equal(t, OptionMagic, binary.BigEndian.Uint64(out[8:16]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(out[16:18]))
}

func TestReadClientFlags(t *testing.T) {
	flags, err := ReadClientFlags(bytes.NewReader([]byte{0, 0, 0, 1}))
	require.NoError(t, err)
	assert.Equal(t, ClientFlagFixedNewstyle, flags)
}

func TestReadOption(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, OptionMagic)
	binary.Write(&buf, binary.BigEndian, OptExportName)
	binary.Write(&buf, binary.BigEndian, uint32(4))
	buf.WriteString("disk")

	opt, err := ReadOption(&buf)
	require.NoError(t, err)
	assert.Equal(t, OptExportName, opt.Opt)
	assert.Equal(t, []byte("disk"), opt.Data)
}

func TestReadOptionNoData(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, OptionMagic)
	binary.Write(&buf, binary.BigEndian, OptAbort)
	binary.Write(&buf, binary.BigEndian, uint32(0))

	opt, err := ReadOption(&buf)
	require.NoError(t, err)
	assert.Equal(t, OptAbort, opt.Opt)
	assert.Empty(t, opt.Data)
}

func TestReadOptionBadMagic(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint64(0xdeadbeef))
	binary.Write(&buf, binary.BigEndian, OptAbort)
	binary.Write(&buf, binary.BigEndian, uint32(0))

	_, err := ReadOption(&buf)
	assert.ErrorIs(t, err, ErrBadOptionMagic)
}

func TestReadOptionTooLarge(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, OptionMagic)
	binary.Write(&buf, binary.BigEndian, OptExportName)
	binary.Write(&buf, binary.BigEndian, uint32(MaxOptionLength+1))

	_, err := ReadOption(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteOptionReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOptionReply(&buf, OptList, RepServer, ServerReplyData("disk0")))

	out := buf.Bytes()
	require.Len(t, out, 20+4+5)
	assert.Equal(t, OptionReplyMagic, binary.BigEndian.Uint64(out[0:8]))
	assert.Equal(t, OptList, binary.BigEndian.Uint32(out[8:12]))
	assert.Equal(t, RepServer, binary.BigEndian.Uint32(out[12:16]))
	assert.Equal(t, uint32(9), binary.BigEndian.Uint32(out[16:20]))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(out[20:24]))
	assert.Equal(t, []byte("disk0"), out[24:])
}

func TestWriteExportInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExportInfo(&buf, 8192, ExportFlags|FlagReadOnly))

	out := buf.Bytes()
	require.Len(t, out, 134)
	assert.Equal(t, uint64(8192), binary.BigEndian.Uint64(out[0:8]))
	assert.Equal(t, uint16(0b111), binary.BigEndian.Uint16(out[8:10]))
	assert.Equal(t, make([]byte, 124), out[10:])
}

func TestReadRequest(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, RequestMagic)
	binary.Write(&buf, binary.BigEndian, CmdRead)
	binary.Write(&buf, binary.BigEndian, uint64(0xcafe))
	binary.Write(&buf, binary.BigEndian, uint64(4096))
	binary.Write(&buf, binary.BigEndian, uint32(512))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, CmdRead, req.Cmd)
	assert.Equal(t, uint64(0xcafe), req.Handle)
	assert.Equal(t, uint64(4096), req.Offset)
	assert.Equal(t, uint32(512), req.Length)
}

func TestReadRequestBadMagic(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(0x12345678))
	buf.Write(make([]byte, 24))

	_, err := ReadRequest(&buf)
	assert.ErrorIs(t, err, ErrBadRequestMagic)
}

func TestWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, 0xcafe, 0, []byte("payload")))

	out := buf.Bytes()
	require.Len(t, out, 16+7)
	assert.Equal(t, ResponseMagic, binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(out[4:8]))
	assert.Equal(t, uint64(0xcafe), binary.BigEndian.Uint64(out[8:16]))
	assert.Equal(t, []byte("payload"), out[16:])
}

func TestWriteResponseError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, 1, 30, nil))

	out := buf.Bytes()
	require.Len(t, out, 16)
	assert.Equal(t, uint32(30), binary.BigEndian.Uint32(out[4:8]))
}

func TestExportFlagsValue(t *testing.T) {
	// has-flags | send-flush, without read-only.
	assert.Equal(t, uint16(0b101), ExportFlags)
	assert.Equal(t, uint32(1<<31+1), RepErrUnsup)
}
