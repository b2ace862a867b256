// Package nbd implements framing for the fixed-newstyle NBD handshake,
// option negotiation and transmission phases.
//
// All on-wire integers are big-endian. Offsets and lengths keep the widths
// the protocol specifies (64-bit offsets, 32-bit lengths); they are never
// narrowed even when an export is smaller than 4 GiB.
package nbd

// Protocol magics.
const (
	// InitMagic opens the server greeting.
	InitMagic = "NBDMAGIC"

	// OptionMagic follows the greeting and precedes every client option
	// ("IHAVEOPT" in ASCII).
	OptionMagic uint64 = 0x49484156454F5054

	// OptionReplyMagic precedes every server option reply.
	OptionReplyMagic uint64 = 0x3e889045565a9

	// RequestMagic precedes every transmission-phase request.
	RequestMagic uint32 = 0x25609513

	// ResponseMagic precedes every transmission-phase simple reply.
	ResponseMagic uint32 = 0x67446698
)

// Handshake flags (server → client, 16 bits).
const (
	FlagFixedNewstyle uint16 = 1 << 0
)

// Client flags (client → server, 32 bits).
const (
	ClientFlagFixedNewstyle uint32 = 1 << 0
)

// Options.
const (
	OptExportName uint32 = 1
	OptAbort      uint32 = 2
	OptList       uint32 = 3
)

// Option reply types.
const (
	RepAck      uint32 = 1
	RepServer   uint32 = 2
	RepErrUnsup uint32 = 1<<31 + 1
)

// Transmission commands.
const (
	CmdRead  uint32 = 0
	CmdWrite uint32 = 1
	CmdDisc  uint32 = 2
	CmdFlush uint32 = 3
)

// Export flags (16 bits, sent after EXPORT_NAME).
const (
	FlagHasFlags  uint16 = 1 << 0
	FlagReadOnly  uint16 = 1 << 1
	FlagSendFlush uint16 = 1 << 2

	// ExportFlags is the base flag set for every export: has-flags plus
	// flush support. Read-only exports additionally set FlagReadOnly.
	ExportFlags = FlagHasFlags ^ FlagSendFlush
)

// Frame sizes.
const (
	optionHeaderLen  = 16  // option magic + opt + length
	requestLen       = 28  // magic + cmd + handle + offset + length
	responseLen      = 16  // magic + error + handle
	exportInfoPadLen = 124 // zero padding after size + flags
)

// Safety bounds; frames past these are protocol errors, not allocations.
const (
	// MaxOptionLength bounds option payloads (export names).
	MaxOptionLength = 4096

	// MaxRequestLength bounds a single READ/WRITE (32 MiB).
	MaxRequestLength = 32 << 20
)
