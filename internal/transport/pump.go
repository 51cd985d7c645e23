package transport

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pump reads HCI packets off a Device and hands complete packets to onPacket,
// one goroutine, until the context is cancelled or the device errs out.
// Grounded on the teacher's linux/internal/device/device.go read loop, which
// ran a single blocking Read in its own goroutine feeding a channel; this
// version coordinates start/stop with errgroup instead of an ad hoc done
// channel, matching the dependency named for concurrency coordination in
// SPEC_FULL.md's domain stack.
type Pump struct {
	dev      io.Reader
	onPacket func([]byte)
	log      *logrus.Entry
}

func NewPump(dev io.Reader, onPacket func([]byte), log *logrus.Entry) *Pump {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pump{dev: dev, onPacket: onPacket, log: log}
}

// Run blocks until ctx is cancelled or a read fails. It is meant to be
// launched via an errgroup.Group so Device.Close (triggered by ctx
// cancellation elsewhere) unblocks the pending Read.
func (p *Pump) Run(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := p.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		p.onPacket(pkt)
	}
}

// RunWithGroup launches Run under g and arranges for dev to be closed when
// ctx is cancelled, so the blocking Read call unblocks promptly.
func RunWithGroup(ctx context.Context, g *errgroup.Group, dev *Device, onPacket func([]byte), log *logrus.Entry) {
	p := NewPump(dev, onPacket, log)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return dev.Close()
	})
}
