package corepm

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advreg"
	"github.com/blehost/corepm/alarm"
	"github.com/blehost/corepm/config"
	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/event"
	"github.com/blehost/corepm/internal/hci"
	"github.com/blehost/corepm/keymat"
	"github.com/blehost/corepm/pm"
)

// Core is the composition root wiring the HCI transport, command
// dispatcher, event dispatcher, advertising manager and power manager
// behind one single-threaded handler — the same role the teacher's
// linux.HCI plays, generalized from one mainLoop/handlePacket pump
// (linux/hci.go) driving a GATT registry to one driving both managers of
// this core.
type Core struct {
	Adv *Manager
	PM  *pm.Manager

	cfg config.HostConfig

	disp  *cmd.Dispatcher
	evt   *event.Dispatcher
	alarms *alarm.Service
	keys  *keymat.Store

	tasks chan func()
	log   *logrus.Entry

	mu sync.Mutex
}

// New wires every component given a transport (the io.Writer HCI commands
// are written to — production code supplies internal/transport.Device;
// events are fed in separately through HandlePacket) and a key-material
// backend.
func New(w io.Writer, keyBackend keymat.Backend, api APIType, maxAdvLen int, numInstances int, policy addrpolicy.Policy, identity addrpolicy.Identity, cfg config.HostConfig, log *logrus.Entry) *Core {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Core{cfg: cfg, tasks: make(chan func(), 256), log: log}

	c.disp = cmd.New(w, c, log)
	c.evt = event.New(log)
	c.alarms = alarm.New(c, nil)

	addrMgr := addrpolicy.NewManager(identity)
	regAPI := advreg.Legacy
	switch api {
	case APIExtended:
		regAPI = advreg.Extended
	case APIAndroidVendor:
		regAPI = advreg.AndroidVendor
	}
	registry := advreg.New(regAPI, numInstances, c.alarms, addrUnregistererStub{})

	c.keys = keymat.NewStore(keyBackend, c.disp, nil)
	c.Adv = NewManager(api, maxAdvLen, policy, registry, addrMgr, c.alarms, c.disp, c.keys, cfg, log)
	c.keys.SetOnChange(func(mat keymat.Material) {
		c.Post(func() {
			for id := range c.Adv.advertisers {
				c.Adv.SetKeyMaterial(id, mat)
			}
		})
	})

	c.PM = pm.NewManager(c, c.disp, c.alarms, cfg.MaxServices(), log)

	c.wireEvents()
	return c
}

type addrUnregistererStub struct{}

func (addrUnregistererStub) UnregisterAll() {}

func (c *Core) wireEvents() {
	c.evt.On(hci.EvtCommandComplete, func(b []byte) error {
		var ep hci.CommandCompleteEP
		if err := ep.Unmarshal(b); err != nil {
			return err
		}
		c.disp.HandleCommandComplete(ep)
		return nil
	})
	c.evt.On(hci.EvtCommandStatus, func(b []byte) error {
		var ep hci.CommandStatusEP
		if err := ep.Unmarshal(b); err != nil {
			return err
		}
		c.disp.HandleCommandStatus(ep)
		return nil
	})
	c.evt.On(hci.EvtModeChange, func(b []byte) error {
		var ep hci.ModeChangeEP
		if err := ep.Unmarshal(b); err != nil {
			return err
		}
		c.Post(func() { c.PM.OnModeChange(ep) })
		return nil
	})
	c.evt.On(hci.EvtSniffSubrating, func(b []byte) error {
		var ep hci.SniffSubratingEP
		if err := ep.Unmarshal(b); err != nil {
			return err
		}
		c.Post(func() { c.PM.OnSniffSubrating(ep) })
		return nil
	})
	c.evt.On(hci.EvtLEMeta, func(b []byte) error {
		if len(b) == 0 {
			return nil
		}
		switch hci.LEEventCode(b[0]) {
		case hci.LESubAdvertisingSetTerminated:
			var ep hci.AdvertisingSetTerminatedEP
			if err := ep.Unmarshal(b); err != nil {
				return err
			}
			c.Post(func() { c.Adv.OnSetTerminated(ep) })
		case hci.LESubScanRequestReceived:
			var ep hci.ScanRequestReceivedEP
			if err := ep.Unmarshal(b); err != nil {
				return err
			}
			c.Post(func() { c.Adv.OnScanRequestReceived(ep, nil) })
		}
		return nil
	})
}

// Post implements cmd.Poster and alarm.Poster: it enqueues fn to run on
// Core's single consumer goroutine (Run). Safe to call from any goroutine.
func (c *Core) Post(fn func()) {
	c.tasks <- fn
}

// HandlePacket feeds one raw HCI event packet (header included) into the
// event dispatcher. Called from the transport read pump, never from Run's
// own goroutine.
func (c *Core) HandlePacket(b []byte) {
	if err := c.evt.Dispatch(b); err != nil {
		c.log.WithError(err).Warn("corepm: event dispatch error")
	}
}

// Run is the single consumer goroutine for all C5-C9 state: it drains
// posted tasks until ctx is cancelled, grounded on the teacher's
// HCI.mainLoop → handlePacket → dispatch pump in linux/hci.go.
func (c *Core) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.tasks:
			fn()
		}
	}
}

// RunWithGroup launches Run under g, the same lifecycle-coordination shape
// internal/transport.RunWithGroup uses for the read pump.
func RunWithGroup(ctx context.Context, g *errgroup.Group, c *Core) {
	g.Go(func() error { return c.Run(ctx) })
}
