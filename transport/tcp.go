// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/errs"
	"github.com/hyra-network/scribe-ledger/raft"
)

// AddrResolver maps a node id to its current peer address. The node wires
// this to the live membership view so address changes take effect without
// reconnecting the transport.
type AddrResolver func(id uint64) string

// connPoolSize bounds idle connections per destination.
const connPoolSize = 2

// TCP is the framed peer transport: one logical stream per (source,
// destination) pair drawn from a small pool; frames are ordered per
// connection. An optional TLS config enables mutual TLS.
type TCP struct {
	id      uint64
	log     log.Logger
	resolve AddrResolver
	tlsConf *tls.Config

	handler raft.Handler

	listener net.Listener

	mu    sync.Mutex
	pools map[string]chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
	done      sync.WaitGroup
}

var _ raft.Transport = (*TCP)(nil)

// NewTCP returns an unstarted TCP transport for the local node.
func NewTCP(id uint64, resolve AddrResolver, logger log.Logger, tlsConf *tls.Config) *TCP {
	return &TCP{
		id:      id,
		log:     logger,
		resolve: resolve,
		tlsConf: tlsConf,
		pools:   make(map[string]chan net.Conn),
		closed:  make(chan struct{}),
	}
}

// Serve binds the listener and dispatches inbound frames to handler.
func (t *TCP) Serve(bind string, handler raft.Handler) error {
	var (
		ln  net.Listener
		err error
	)
	if t.tlsConf != nil {
		ln, err = tls.Listen("tcp", bind, t.tlsConf)
	} else {
		ln, err = net.Listen("tcp", bind)
	}
	if err != nil {
		return errs.Wrap(errs.NetworkConnect, err, "binding peer listener")
	}
	t.handler = handler
	t.listener = ln

	t.done.Add(1)
	go t.acceptLoop()
	return nil
}

// Close stops the listener and drops pooled connections.
func (t *TCP) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.mu.Lock()
		for _, pool := range t.pools {
			close(pool)
			for conn := range pool {
				_ = conn.Close()
			}
		}
		t.pools = map[string]chan net.Conn{}
		t.mu.Unlock()
	})
	t.done.Wait()
	return err
}

func (t *TCP) acceptLoop() {
	defer t.done.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		t.done.Add(1)
		go t.serveConn(conn)
	}
}

// serveConn answers frames in arrival order, keeping per-connection
// ordering.
func (t *TCP) serveConn(conn net.Conn) {
	defer t.done.Done()
	defer conn.Close()

	for {
		select {
		case <-t.closed:
			return
		default:
		}
		req, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.log.Debug("reading peer frame failed", zap.Error(err))
			}
			return
		}
		resp, err := dispatch(t.handler, req)
		if err != nil {
			t.log.Warn("dispatching peer frame failed", zap.Error(err))
			resp = &Message{Type: ErrorResp, Payload: []byte(fmt.Sprintf("%q", err.Error()))}
		}
		resp.From = t.id
		if err := writeFrame(conn, resp); err != nil {
			t.log.Debug("writing peer frame failed", zap.Error(err))
			return
		}
	}
}

// call performs one request/response exchange with the peer.
func (t *TCP) call(ctx context.Context, to uint64, req *Message) (*Message, error) {
	addr := t.resolve(to)
	if addr == "" {
		return nil, errs.Newf(errs.NetworkConnect, "no address for node %d", to)
	}
	req.From = t.id

	conn, err := t.getConn(ctx, addr)
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(errs.NetworkReset, err, "arming deadline")
	}

	if err := writeFrame(conn, req); err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(errs.NetworkReset, err, "sending frame")
	}
	resp, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(errs.NetworkReset, err, "reading response frame")
	}
	t.putConn(addr, conn)

	if resp.Type == ErrorResp {
		return nil, errs.Newf(errs.ConsensusRejected, "peer %d rejected frame: %s", to, resp.Payload)
	}
	return resp, nil
}

func (t *TCP) getConn(ctx context.Context, addr string) (net.Conn, error) {
	t.mu.Lock()
	pool, ok := t.pools[addr]
	if !ok {
		pool = make(chan net.Conn, connPoolSize)
		t.pools[addr] = pool
	}
	t.mu.Unlock()

	select {
	case conn, ok := <-pool:
		if ok && conn != nil {
			return conn, nil
		}
	default:
	}

	dialer := &net.Dialer{}
	var (
		conn net.Conn
		err  error
	)
	if t.tlsConf != nil {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: t.tlsConf}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, errs.Wrap(errs.NetworkConnect, err, "dialing peer")
	}
	return conn, nil
}

func (t *TCP) putConn(addr string, conn net.Conn) {
	_ = conn.SetDeadline(time.Time{})
	t.mu.Lock()
	pool, ok := t.pools[addr]
	t.mu.Unlock()
	if !ok {
		_ = conn.Close()
		return
	}
	select {
	case pool <- conn:
	default:
		_ = conn.Close()
	}
}

// AppendEntries implements raft.Transport.
func (t *TCP) AppendEntries(ctx context.Context, to uint64, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return roundTrip[raft.AppendEntriesResponse](t, ctx, to, AppendEntriesReq, req)
}

// RequestVote implements raft.Transport.
func (t *TCP) RequestVote(ctx context.Context, to uint64, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return roundTrip[raft.RequestVoteResponse](t, ctx, to, VoteReq, req)
}

// InstallSnapshot implements raft.Transport.
func (t *TCP) InstallSnapshot(ctx context.Context, to uint64, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	return roundTrip[raft.InstallSnapshotResponse](t, ctx, to, SnapshotChunk, req)
}

// TimeoutNow implements raft.Transport.
func (t *TCP) TimeoutNow(ctx context.Context, to uint64, req *raft.TimeoutNowRequest) error {
	_, err := roundTrip[struct{}](t, ctx, to, TimeoutNow, req)
	return err
}

// Ping probes a peer for liveness.
func (t *TCP) Ping(ctx context.Context, to uint64) error {
	_, err := t.call(ctx, to, &Message{Type: MembershipPing, Payload: []byte("{}")})
	return err
}

func roundTrip[R any](t *TCP, ctx context.Context, to uint64, msgType MessageType, req any) (*R, error) {
	payload, err := encodePayload(req)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "encoding frame payload")
	}
	resp, err := t.call(ctx, to, &Message{Type: msgType, Payload: payload})
	if err != nil {
		return nil, err
	}
	return decodePayload[R](resp)
}

// Frame layout: u32 length, then version, kind, source id and payload.
// Length covers everything after the length word itself.
func writeFrame(w io.Writer, msg *Message) error {
	length := 1 + 1 + 8 + len(msg.Payload)
	if length > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf, uint32(length))
	buf[4] = frameVersion
	buf[5] = byte(msg.Type)
	binary.BigEndian.PutUint64(buf[6:], msg.From)
	copy(buf[14:], msg.Payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (*Message, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(head[:])
	if length < 10 || length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d out of bounds", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if body[0] != frameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", body[0])
	}
	return &Message{
		Type:    MessageType(body[1]),
		From:    binary.BigEndian.Uint64(body[2:10]),
		Payload: body[10:],
	}, nil
}
