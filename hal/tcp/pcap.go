package tcp

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// captureMaxFrame bounds the snap length recorded per frame; CXL.mem
// and CXL.cache frames carry at most one cache line plus a small
// header, so this comfortably covers every frame class.
const captureMaxFrame = 256

// captureWriter mirrors raw port fabric socket frames into a PCAP
// file, per spec.md §6's optional "PCAP of the TCP fabric". Frames are
// captured as opaque raw link-layer payloads (DLT_RAW): this is a
// debugging trace of the fabric's own wire format, not a decodable
// network capture, so no host/tcp/device_port_ip is synthesized.
type captureWriter struct {
	mu sync.Mutex
	w  *pcapgo.Writer
}

func newCaptureWriter(w io.Writer) (*captureWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(captureMaxFrame, layers.LinkTypeRaw); err != nil {
		return nil, err
	}
	return &captureWriter{w: pw}, nil
}

func (c *captureWriter) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	captured := frame
	if len(captured) > captureMaxFrame {
		captured = captured[:captureMaxFrame]
	}
	return c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(captured),
		Length:        len(frame),
	}, captured)
}
