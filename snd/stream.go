package snd

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/rtp"
)

const packetChannelBufferSize = 1000

// Interfaces
type Logger interface {
	Info(interface{}, ...interface{})
	Warn(interface{}, ...interface{})
	Error(interface{}, ...interface{})
	Debug(interface{}, ...interface{})
}

// PacketConn is the subset of *net.UDPConn the listener reads from.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
}

// PCMPacket is one RTP frame of raw s16le audio decoded to float32.
type PCMPacket struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Samples   []float32
}

// Listener receives RTP packets carrying s16le PCM over UDP and
// delivers them decoded on a buffered channel. A slow consumer loses
// packets; the socket loop never blocks on delivery.
type Listener struct {
	conn    PacketConn
	logger  Logger
	packets chan PCMPacket
}

// Listen binds a UDP socket on addr and returns a listener for it.
func Listen(addr string, logger Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewListener(conn, logger), nil
}

func NewListener(conn PacketConn, logger Logger) *Listener {
	return &Listener{
		conn:    conn,
		logger:  logger,
		packets: make(chan PCMPacket, packetChannelBufferSize),
	}
}

// Stream starts the socket loop and returns the delivery channel. The
// channel is closed when ctx is canceled or the socket fails.
func (l *Listener) Stream(ctx context.Context) <-chan PCMPacket {
	go l.readLoop(ctx)
	return l.packets
}

func (l *Listener) readLoop(ctx context.Context) {
	defer close(l.packets)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the pending ReadFrom.
			l.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 1500)
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Error("UDP read failed", "error", err)
			}
			return
		}

		var packet rtp.Packet
		if err := packet.Unmarshal(buf[:n]); err != nil {
			l.logger.Debug("Dropping malformed RTP packet", "bytes", n, "error", err)
			continue
		}

		p := PCMPacket{
			SSRC:      packet.SSRC,
			Sequence:  packet.SequenceNumber,
			Timestamp: packet.Timestamp,
			Samples:   BytesToFloat32(packet.Payload),
		}

		select {
		case l.packets <- p:
		default:
			l.logger.Warn("Packet channel buffer full, dropping packet",
				"ssrc", packet.SSRC,
				"sequence", packet.SequenceNumber,
			)
		}
	}
}
