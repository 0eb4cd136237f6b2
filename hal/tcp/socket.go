// Package tcp implements the external port fabric socket: a thin,
// real net.Listener-based transport carrying the four CXL traffic
// classes over one TCP connection per physical port. Grounded on
// spec.md §6 ("Port fabric socket") and host/hal's real HAL
// implementations in the teacher pack, generalized from USB's
// usbfs/ioctl transport to a length-prefixed TCP frame protocol since
// the CORE fabric has no physical bus to drive.
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

// Side identifies which end of a FIFO pair an external TCP client
// occupies, carried as the first byte of the connection prologue.
type Side uint8

// Connection sides, per spec.md §6's prologue ("R" = root-port/host,
// "USP/DSP/LD/..." on the device side).
const (
	SideRoot Side = 'R' // root complex / host, drives requests downstream
	SideUSP  Side = 'U' // upstream switch port
	SideDSP  Side = 'D' // downstream switch port
	SideLD   Side = 'L' // logical device behind an MLD endpoint
)

// String returns a human-readable side name.
func (s Side) String() string {
	switch s {
	case SideRoot:
		return "root"
	case SideUSP:
		return "usp"
	case SideDSP:
		return "dsp"
	case SideLD:
		return "ld"
	default:
		return "unknown"
	}
}

// frameHeaderSize is the fixed [class(1) kind(1) length(4)] frame
// prologue preceding every packet's encoded payload.
const frameHeaderSize = 6

// prologueSize is the fixed [side(1) portIndex(2)] handshake a client
// sends immediately after connecting.
const prologueSize = 3

// PortBinding supplies the FIFO pairs a connection's frames are
// bridged to, one pair per traffic class, indexed by pkt.Class.
type PortBinding struct {
	Side      Side
	PortIndex int
	Pairs     [4]*fifo.Pair
}

// Resolver maps a handshake (side, port index) to the FIFO pairs that
// back it. The fabric composer supplies this, since it alone knows
// which vPPB or physical port a given index names.
type Resolver func(side Side, portIndex int) (*PortBinding, error)

// Listener accepts TCP connections on behalf of the port fabric socket
// and bridges each to the FIFO pairs its handshake resolves to.
type Listener struct {
	ln       net.Listener
	resolve  Resolver
	metrics  *pkg.Metrics
	capture  *captureWriter
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
}

// Listen opens a TCP listener on addr. Call Serve to begin accepting.
func Listen(addr string, resolve Resolver, metrics *pkg.Metrics) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, resolve: resolve, metrics: metrics, conns: make(map[net.Conn]struct{})}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// EnableCapture mirrors every frame crossing this listener's
// connections to w as a PCAP capture, per spec.md §6's "optional PCAP
// of the TCP fabric".
func (l *Listener) EnableCapture(w io.Writer) error {
	cw, err := newCaptureWriter(w)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.capture = cw
	l.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled in its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		go l.handle(ctx, conn)
	}
}

// Close closes the listener and all connections it has accepted.
func (l *Listener) Close() error {
	l.mu.Lock()
	for c := range l.conns {
		c.Close()
	}
	l.conns = make(map[net.Conn]struct{})
	l.mu.Unlock()
	return l.ln.Close()
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	side, portIndex, err := readPrologue(conn)
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "prologue read failed", zap.Error(err))
		return
	}
	binding, err := l.resolve(side, portIndex)
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "unresolved port binding",
			zap.String("side", side.String()), zap.Int("port", portIndex), zap.Error(err))
		return
	}

	pkg.LogInfo(pkg.ComponentHAL, "port fabric socket connected",
		zap.String("side", side.String()), zap.Int("port", portIndex))
	l.metrics.HALConnection(side.String())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.readLoop(connCtx, conn, binding)
	}()
	go func() {
		defer wg.Done()
		l.writeLoop(connCtx, conn, binding)
	}()
	wg.Wait()
}

func readPrologue(conn net.Conn) (Side, int, error) {
	buf := make([]byte, prologueSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return 0, 0, err
	}
	return Side(buf[0]), int(binary.LittleEndian.Uint16(buf[1:])), nil
}

// readLoop reads frames from conn and forwards decoded packets into
// the FIFO pair matching their class, in the direction appropriate for
// binding.Side.
func (l *Listener) readLoop(ctx context.Context, conn net.Conn, binding *PortBinding) {
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		class := pkt.Class(header[0])
		kind := pkt.Kind(header[1])
		length := binary.LittleEndian.Uint32(header[2:])

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		l.mirrorCapture(header, payload)

		p, err := pkt.Decode(kind, payload)
		if err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "frame decode failed", zap.Error(err))
			continue
		}
		pair := binding.Pairs[class]
		if pair == nil {
			continue
		}
		if binding.Side == SideRoot {
			_ = pair.SendToTarget(ctx, p)
		} else {
			_ = pair.SendToHost(ctx, p)
		}
	}
}

// writeLoop drains the FIFO pairs in binding's direction and writes
// each packet as a framed, length-prefixed message to conn.
func (l *Listener) writeLoop(ctx context.Context, conn net.Conn, binding *PortBinding) {
	var wg sync.WaitGroup
	for class, pair := range binding.Pairs {
		if pair == nil {
			continue
		}
		wg.Add(1)
		go func(class int, pair *fifo.Pair) {
			defer wg.Done()
			for {
				var p pkt.Packet
				var ok bool
				if binding.Side == SideRoot {
					p, ok = pair.ReceiveFromTarget(ctx)
				} else {
					p, ok = pair.ReceiveFromHost(ctx)
				}
				if !ok {
					return
				}
				if err := writeFrame(conn, pkt.Class(class), p); err != nil {
					return
				}
			}
		}(class, pair)
	}
	wg.Wait()
}

func writeFrame(w io.Writer, class pkt.Class, p pkt.Packet) error {
	payload, err := pkt.Encode(p)
	if err != nil {
		return err
	}
	header := make([]byte, frameHeaderSize)
	header[0] = uint8(class)
	header[1] = uint8(p.Kind())
	binary.LittleEndian.PutUint32(header[2:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func (l *Listener) mirrorCapture(header, payload []byte) {
	l.mu.Lock()
	cw := l.capture
	l.mu.Unlock()
	if cw == nil {
		return
	}
	frame := make([]byte, 0, len(header)+len(payload))
	frame = append(frame, header...)
	frame = append(frame, payload...)
	if err := cw.write(frame); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "pcap write failed", zap.Error(err))
	}
}

// Dial opens a client-side connection to a port fabric socket, sending
// the handshake prologue identifying side and portIndex.
func Dial(addr string, side Side, portIndex int) (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, prologueSize)
	buf[0] = uint8(side)
	binary.LittleEndian.PutUint16(buf[1:], uint16(portIndex))
	if _, err := conn.Write(buf); err != nil {
		conn.Close()
		return nil, fmt.Errorf("prologue write: %w", err)
	}
	return conn, nil
}
