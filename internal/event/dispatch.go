// Package event routes raw HCI event packets to registered handlers by
// event code, grounded on the teacher's linux/internal/event/event.go
// (HandlerFunc/Event type, map[EventCode]EventHandler, default handler).
package event

import (
	"github.com/sirupsen/logrus"

	"github.com/blehost/corepm/internal/hci"
)

// Handler processes one event's parameter bytes (header already stripped).
type Handler func(b []byte) error

// Dispatcher fans out HCI events by code, the same shape as the teacher's
// Event type.
type Dispatcher struct {
	handlers map[hci.EventCode]Handler
	log      *logrus.Entry
}

func New(log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{handlers: map[hci.EventCode]Handler{}, log: log}
}

func (d *Dispatcher) On(code hci.EventCode, h Handler) {
	d.handlers[code] = h
}

// Dispatch parses the event header and invokes the registered handler, if
// any. Unhandled events are logged and dropped, matching the teacher's
// behavior for "no handler for %s".
func (d *Dispatcher) Dispatch(b []byte) error {
	var h hci.EventHeader
	if err := h.Unmarshal(b); err != nil {
		return err
	}
	body := b[2:]
	f, ok := d.handlers[h.Code]
	if !ok {
		d.log.WithField("code", h.Code).Trace("hci: no handler for event")
		return nil
	}
	return f(body)
}
