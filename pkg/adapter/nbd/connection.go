package nbd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/usebox/swiftnbd/internal/logger"
	nbdproto "github.com/usebox/swiftnbd/internal/protocol/nbd"
	"github.com/usebox/swiftnbd/pkg/bufpool"
	"github.com/usebox/swiftnbd/pkg/store"
)

// errAborted marks a client-requested negotiation abort; it tears the
// connection down without being reported as a failure.
var errAborted = errors.New("client aborted negotiation")

// unlockTimeout bounds the best-effort unlock during teardown.
const unlockTimeout = 10 * time.Second

// connection is the per-client state machine:
//
//	Greeting -> ClientFlags -> Negotiation -> Operating -> Teardown
//
// Any protocol error moves straight to Teardown. The bound export is set at
// most once, during negotiation.
type connection struct {
	adapter *Adapter
	conn    net.Conn
	addr    string
	log     *slog.Logger

	// fixed is true once the client announces fixed-newstyle negotiation.
	fixed bool

	// export and name are set when EXPORT_NAME succeeds.
	export *Export
	name   string
}

func newConnection(a *Adapter, conn net.Conn) *connection {
	addr := conn.RemoteAddr().String()
	return &connection{
		adapter: a,
		conn:    conn,
		addr:    addr,
		log:     logger.With("conn_id", uuid.NewString()[:8], "address", addr),
	}
}

func (c *connection) serve(ctx context.Context) {
	defer c.teardown()

	if err := c.handshake(); err != nil {
		c.log.Error("Handshake failed", "error", err)
		return
	}

	if err := c.negotiate(ctx); err != nil {
		if errors.Is(err, errAborted) {
			c.log.Info("Client aborted negotiation")
		} else {
			c.log.Error("Negotiation failed", "error", err)
		}
		return
	}

	if err := c.operate(ctx); err != nil {
		c.log.Error("Connection error", "error", err)
	}
}

// handshake sends the greeting and validates the client flags.
func (c *connection) handshake() error {
	if err := nbdproto.WriteGreeting(c.conn, nbdproto.FlagFixedNewstyle); err != nil {
		return err
	}

	flags, err := nbdproto.ReadClientFlags(c.conn)
	if err != nil {
		return err
	}

	switch {
	case flags == 0:
		c.log.Warn("Client using new-style non-fixed handshake")
	case flags&nbdproto.ClientFlagFixedNewstyle != 0:
		c.fixed = true
	default:
		return fmt.Errorf("unsupported client flags 0x%x", flags)
	}
	return nil
}

// negotiate runs the option loop until an export is bound (nil), the
// client aborts (errAborted) or a protocol error occurs.
func (c *connection) negotiate(ctx context.Context) error {
	for {
		opt, err := nbdproto.ReadOption(c.conn)
		if err != nil {
			return err
		}

		switch opt.Opt {
		case nbdproto.OptExportName:
			bound, err := c.bindExport(ctx, opt)
			if err != nil {
				return err
			}
			if bound {
				return nil
			}
			// Unknown export in fixed mode: stay in negotiation.

		case nbdproto.OptList:
			for name := range c.adapter.exports {
				err := nbdproto.WriteOptionReply(c.conn, opt.Opt, nbdproto.RepServer, nbdproto.ServerReplyData(name))
				if err != nil {
					return err
				}
			}
			if err := nbdproto.WriteOptionReply(c.conn, opt.Opt, nbdproto.RepAck, nil); err != nil {
				return err
			}

		case nbdproto.OptAbort:
			if err := nbdproto.WriteOptionReply(c.conn, opt.Opt, nbdproto.RepAck, nil); err != nil {
				return err
			}
			return errAborted

		default:
			if !c.fixed {
				return fmt.Errorf("unsupported option %d", opt.Opt)
			}
			if err := nbdproto.WriteOptionReply(c.conn, opt.Opt, nbdproto.RepErrUnsup, nil); err != nil {
				return err
			}
		}
	}
}

// bindExport resolves the EXPORT_NAME option: it selects the storage,
// acquires the remote lock and sends the export details. It returns false
// with a nil error when an unknown export was answered with ERR_UNSUP and
// negotiation should continue.
func (c *connection) bindExport(ctx context.Context, opt *nbdproto.Option) (bool, error) {
	if len(opt.Data) == 0 {
		return false, errors.New("no export name was provided")
	}

	name := string(opt.Data)
	export, ok := c.adapter.exports[name]
	if !ok {
		if !c.fixed {
			return false, fmt.Errorf("unknown export %q", name)
		}
		c.log.Warn("Unknown export requested", "export", name)
		if err := nbdproto.WriteOptionReply(c.conn, opt.Opt, nbdproto.RepErrUnsup, nil); err != nil {
			return false, err
		}
		return false, nil
	}

	// Every connection naming this export shares one Storage, whose Lock
	// returns success without a remote check while it already holds the
	// container lock; a held lock therefore refuses the connection here.
	err := store.ErrBusy
	if !export.Storage.Locked() {
		err = export.Storage.Lock(ctx, c.addr)
	}
	if err != nil {
		c.log.Error("Failed to lock export", "export", name, "error", err)
		if c.fixed {
			_ = nbdproto.WriteOptionReply(c.conn, opt.Opt, nbdproto.RepErrUnsup, nil)
		}
		return false, fmt.Errorf("export %q: %w", name, err)
	}

	c.export = export
	c.name = name
	c.log = c.log.With("export", name)
	c.log.Info("Negotiated export", "size", export.Storage.Size(), "read_only", export.Storage.ReadOnly())

	flags := nbdproto.ExportFlags
	if export.Storage.ReadOnly() {
		flags |= nbdproto.FlagReadOnly
	}
	if err := nbdproto.WriteExportInfo(c.conn, uint64(export.Storage.Size()), flags); err != nil {
		return false, err
	}
	return true, nil
}

// operate services transmission-phase requests until disconnect, protocol
// error or server shutdown. Storage errors are answered with the matching
// errno and do not end the connection.
func (c *connection) operate(ctx context.Context) error {
	st := c.export.Storage
	counters := c.export.Counters

	for {
		req, err := nbdproto.ReadRequest(c.conn)
		if err != nil {
			if c.adapter.shuttingDown() || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch req.Cmd {
		case nbdproto.CmdDisc:
			c.log.Info("Client disconnecting")
			return nil

		case nbdproto.CmdWrite:
			data := bufpool.GetUint32(req.Length)
			if _, err := io.ReadFull(c.conn, data); err != nil {
				bufpool.Put(data)
				return fmt.Errorf("short write payload: %w", err)
			}

			err := c.doWrite(ctx, st, req, data)
			bufpool.Put(data)
			if err != nil {
				c.log.Error("Write failed", "offset", req.Offset, "length", req.Length, "error", err)
				c.adapter.metrics.RequestError(c.name)
				if err := nbdproto.WriteResponse(c.conn, req.Handle, store.Errno(err), nil); err != nil {
					return err
				}
				continue
			}

			counters.AddIn(uint64(req.Length))
			c.adapter.metrics.AddServerBytesIn(c.name, int(req.Length))
			if err := nbdproto.WriteResponse(c.conn, req.Handle, 0, nil); err != nil {
				return err
			}

		case nbdproto.CmdRead:
			data, err := c.doRead(ctx, st, req)
			if err != nil {
				c.log.Error("Read failed", "offset", req.Offset, "length", req.Length, "error", err)
				c.adapter.metrics.RequestError(c.name)
				if err := nbdproto.WriteResponse(c.conn, req.Handle, store.Errno(err), nil); err != nil {
					return err
				}
				continue
			}

			counters.AddOut(uint64(len(data)))
			c.adapter.metrics.AddServerBytesOut(c.name, len(data))
			if err := nbdproto.WriteResponse(c.conn, req.Handle, 0, data); err != nil {
				return err
			}

		case nbdproto.CmdFlush:
			st.Flush()
			if err := nbdproto.WriteResponse(c.conn, req.Handle, 0, nil); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown command %d", req.Cmd)
		}
	}
}

func (c *connection) doWrite(ctx context.Context, st *store.Storage, req *nbdproto.Request, data []byte) error {
	if err := st.Seek(int64(req.Offset)); err != nil {
		return err
	}
	return st.Write(ctx, data)
}

func (c *connection) doRead(ctx context.Context, st *store.Storage, req *nbdproto.Request) ([]byte, error) {
	if err := st.Seek(int64(req.Offset)); err != nil {
		return nil, err
	}
	return st.Read(ctx, int(req.Length))
}

// teardown releases the export lock (best effort) and closes the socket.
func (c *connection) teardown() {
	if c.export != nil {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		if err := c.export.Storage.Unlock(ctx); err != nil {
			c.log.Error("Failed to unlock export on teardown", "error", err)
		}
		cancel()
	}
	_ = c.conn.Close()
}
