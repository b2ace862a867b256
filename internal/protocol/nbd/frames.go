package nbd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol framing errors. All of them are connection-fatal: the server
// tears the connection down instead of replying.
var (
	ErrBadOptionMagic  = errors.New("bad option magic")
	ErrBadRequestMagic = errors.New("bad request magic")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum length")
)

// Option is a parsed client option frame.
type Option struct {
	Opt  uint32
	Data []byte
}

// Request is a parsed transmission-phase request frame.
type Request struct {
	Cmd    uint32
	Handle uint64
	Offset uint64
	Length uint32
}

// WriteGreeting sends the initial server handshake: the init magic, the
// option magic and the 16-bit handshake flags.
func WriteGreeting(w io.Writer, flags uint16) error {
	buf := make([]byte, 0, len(InitMagic)+10)
	buf = append(buf, InitMagic...)
	buf = binary.BigEndian.AppendUint64(buf, OptionMagic)
	buf = binary.BigEndian.AppendUint16(buf, flags)
	_, err := w.Write(buf)
	return err
}

// ReadClientFlags reads the 32-bit client flag word sent in response to the
// greeting.
func ReadClientFlags(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadOption reads one option frame, validating the magic and bounding the
// payload length.
func ReadOption(r io.Reader) (*Option, error) {
	var header [optionHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint64(header[0:8])
	if magic != OptionMagic {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadOptionMagic, magic)
	}

	opt := binary.BigEndian.Uint32(header[8:12])
	length := binary.BigEndian.Uint32(header[12:16])
	if length > MaxOptionLength {
		return nil, fmt.Errorf("%w: option data %d bytes", ErrFrameTooLarge, length)
	}

	var data []byte
	if length > 0 {
		data = make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	return &Option{Opt: opt, Data: data}, nil
}

// WriteOptionReply sends one option reply frame.
func WriteOptionReply(w io.Writer, opt, replyType uint32, data []byte) error {
	buf := make([]byte, 0, 20+len(data))
	buf = binary.BigEndian.AppendUint64(buf, OptionReplyMagic)
	buf = binary.BigEndian.AppendUint32(buf, opt)
	buf = binary.BigEndian.AppendUint32(buf, replyType)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	_, err := w.Write(buf)
	return err
}

// ServerReplyData encodes the payload of a SERVER reply for the LIST
// option: the name length followed by the name bytes.
func ServerReplyData(name string) []byte {
	buf := make([]byte, 0, 4+len(name))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(name)))
	return append(buf, name...)
}

// WriteExportInfo sends the export details after a successful EXPORT_NAME:
// the 64-bit size, the 16-bit export flags and 124 bytes of padding.
func WriteExportInfo(w io.Writer, size uint64, flags uint16) error {
	buf := make([]byte, 0, 10+exportInfoPadLen)
	buf = binary.BigEndian.AppendUint64(buf, size)
	buf = binary.BigEndian.AppendUint16(buf, flags)
	buf = append(buf, make([]byte, exportInfoPadLen)...)
	_, err := w.Write(buf)
	return err
}

// ReadRequest reads one transmission-phase request frame, validating the
// magic and bounding the length.
func ReadRequest(r io.Reader) (*Request, error) {
	var header [requestLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint32(header[0:4])
	if magic != RequestMagic {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadRequestMagic, magic)
	}

	req := &Request{
		Cmd:    binary.BigEndian.Uint32(header[4:8]),
		Handle: binary.BigEndian.Uint64(header[8:16]),
		Offset: binary.BigEndian.Uint64(header[16:24]),
		Length: binary.BigEndian.Uint32(header[24:28]),
	}
	if req.Length > MaxRequestLength {
		return nil, fmt.Errorf("%w: request %d bytes", ErrFrameTooLarge, req.Length)
	}
	return req, nil
}

// WriteResponse sends a simple reply frame, followed by the payload for
// successful READ replies.
func WriteResponse(w io.Writer, handle uint64, errno uint32, data []byte) error {
	buf := make([]byte, 0, responseLen+len(data))
	buf = binary.BigEndian.AppendUint32(buf, ResponseMagic)
	buf = binary.BigEndian.AppendUint32(buf, errno)
	buf = binary.BigEndian.AppendUint64(buf, handle)
	buf = append(buf, data...)
	_, err := w.Write(buf)
	return err
}
