package bus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/wire"
)

// Director is the TCP client side of the upstream routing bus. It
// implements Upstream for the local Router and the lifecycle Service
// contract (blocking Start, idempotent Stop).
type Director struct {
	addr   string
	router *Router
	logger *zap.Logger

	mu      sync.Mutex
	conn    *wire.FramedConn
	quit    chan struct{}
	running bool
}

// NewDirector creates a director link that will dial addr and deliver
// inbound datagrams to router.
//
// Precondition: addr must be a "host:port" string; router and logger must
// be non-nil.
func NewDirector(addr string, router *Router, logger *zap.Logger) *Director {
	return &Director{
		addr:   addr,
		router: router,
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// Start dials the upstream director and blocks reading datagrams until
// Stop is called or the link fails.
//
// Postcondition: The router's upstream is attached before the first
// datagram is read.
func (d *Director) Start() error {
	start := time.Now()

	raw, err := net.DialTimeout("tcp", d.addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dialing director %s: %w", d.addr, err)
	}
	conn := wire.NewFramedConn(raw, 0, 10*time.Second)

	d.mu.Lock()
	d.conn = conn
	d.running = true
	d.mu.Unlock()

	d.router.SetUpstream(d)

	d.logger.Info("director link established",
		zap.String("addr", d.addr),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		payload, err := conn.ReadFrame()
		if err != nil {
			select {
			case <-d.quit:
				return nil
			default:
				return fmt.Errorf("reading director frame: %w", err)
			}
		}
		if err := d.dispatch(payload); err != nil {
			d.logger.Warn("dropping malformed director datagram", zap.Error(err))
		}
	}
}

// dispatch parses the routing header of an inbound datagram and fans it
// out to local subscribers.
func (d *Director) dispatch(payload []byte) error {
	it := wire.NewIterator(payload)

	count, err := it.ReadUint8()
	if err != nil {
		return err
	}
	recipients := make([]wire.Channel, 0, count)
	for i := 0; i < int(count); i++ {
		ch, err := it.ReadChannel()
		if err != nil {
			return err
		}
		recipients = append(recipients, ch)
	}
	sender, err := it.ReadChannel()
	if err != nil {
		return err
	}
	msgType, err := it.ReadUint16()
	if err != nil {
		return err
	}

	d.router.Deliver(recipients, sender, msgType, it.ReadRemaining())
	return nil
}

// Stop closes the upstream link.
func (d *Director) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.quit)
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.logger.Info("director link closed")
}

// AddChannel claims a channel on the upstream director.
func (d *Director) AddChannel(ch wire.Channel) error {
	return d.control(wire.ControlAddChannel, ch)
}

// RemoveChannel releases a channel on the upstream director.
func (d *Director) RemoveChannel(ch wire.Channel) error {
	return d.control(wire.ControlRemoveChannel, ch)
}

func (d *Director) control(msgType uint16, ch wire.Channel) error {
	dg := wire.NewDatagram()
	dg.AddServerHeader([]wire.Channel{wire.ControlChannel}, 0, msgType)
	dg.AddChannel(ch)
	return d.write(dg)
}

// SendDatagram forwards an outbound datagram to the upstream director.
func (d *Director) SendDatagram(recipients []wire.Channel, sender wire.Channel, msgType uint16, payload []byte) error {
	dg := wire.NewDatagram()
	dg.AddServerHeader(recipients, sender, msgType)
	dg.AddBytes(payload)
	return d.write(dg)
}

func (d *Director) write(dg *wire.Datagram) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("director link not connected")
	}
	return conn.WriteDatagram(dg)
}
