// Package dispatch routes FTM lifecycle notifications to per-application
// callbacks and funnels terminal outcomes into a completion latch.
//
// The dispatcher owns the registration table: at most one sink per
// (role, application id) pair, later registrations replacing earlier
// ones. Classification of statuses into informational, terminal-success
// and terminal-failure is fixed policy, shared by every session.
//
// Example:
//
//	d := dispatch.NewDispatcher()
//	latch := dispatch.NewLatch()
//	d.AttachLatch(latch)
//	d.RegisterSender(137, dispatch.NotificationSinkFunc(func(n *ftm.Notification) {
//	    fmt.Println("status:", n.Status)
//	}))
package dispatch

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/ftm"
)

// ErrUnregisteredApp indicates a notification arrived for a (role, app id)
// pair with no registered sink. The notification is dropped; this is never
// fatal to the session.
var ErrUnregisteredApp = errors.New("no notification sink registered for application")

// Role distinguishes the two registration tables the FTM exposes.
type Role uint8

const (
	// RoleSender receives upload-side notifications.
	RoleSender Role = iota
	// RoleReceiver receives download-side notifications.
	RoleReceiver
)

// String returns the role name used in diagnostics.
func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// NotificationSink consumes lifecycle notifications for one application.
// The notification is only valid for the duration of the call; sinks must
// not retain it.
type NotificationSink interface {
	HandleNotification(n *ftm.Notification)
}

// NotificationSinkFunc adapts a function to the NotificationSink interface.
type NotificationSinkFunc func(n *ftm.Notification)

// HandleNotification implements NotificationSink.
func (f NotificationSinkFunc) HandleNotification(n *ftm.Notification) {
	f(n)
}

// registrationKey identifies one callback registration.
type registrationKey struct {
	role  Role
	appID uint16
}

// Dispatcher classifies notifications and invokes registered sinks. It is
// safe for concurrent use: the FTM may raise notifications from any of its
// goroutines while the driving program registers callbacks.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[registrationKey]NotificationSink
	latch *Latch
}

// NewDispatcher returns a dispatcher with an empty registration table and
// no latch attached.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		sinks: make(map[registrationKey]NotificationSink),
	}
}

// AttachLatch connects a completion latch. Terminal notifications release
// it exactly once; with no latch attached they are only logged and routed.
func (d *Dispatcher) AttachLatch(l *Latch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latch = l
}

// RegisterSender installs the sender-role sink for an application id,
// replacing any earlier registration for the same id.
func (d *Dispatcher) RegisterSender(appID uint16, sink NotificationSink) {
	d.register(RoleSender, appID, sink)
}

// RegisterReceiver installs the receiver-role sink for an application id,
// replacing any earlier registration for the same id.
func (d *Dispatcher) RegisterReceiver(appID uint16, sink NotificationSink) {
	d.register(RoleReceiver, appID, sink)
}

func (d *Dispatcher) register(role Role, appID uint16, sink NotificationSink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := registrationKey{role: role, appID: appID}
	if _, exists := d.sinks[key]; exists {
		logrus.WithFields(logrus.Fields{
			"function": "register",
			"role":     role.String(),
			"app_id":   appID,
		}).Warn("Replacing existing notification sink")
	}
	d.sinks[key] = sink
}

// Registered reports whether a sink exists for the (role, app id) pair.
func (d *Dispatcher) Registered(role Role, appID uint16) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sinks[registrationKey{role: role, appID: appID}]
	return ok
}

// Dispatch routes one notification: the registered sink runs first, then
// the status is classified and a terminal class releases the attached
// latch. Notifications for unregistered applications are dropped with a
// diagnostic and ErrUnregisteredApp.
func (d *Dispatcher) Dispatch(role Role, n *ftm.Notification) error {
	d.mu.RLock()
	sink, ok := d.sinks[registrationKey{role: role, appID: n.AppID}]
	latch := d.latch
	d.mu.RUnlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"role":     role.String(),
			"app_id":   n.AppID,
			"status":   n.Status.String(),
		}).Warn("Dropping notification for unregistered application")
		return ErrUnregisteredApp
	}

	sink.HandleNotification(n)

	class := Classify(n.Status)
	logrus.WithFields(logrus.Fields{
		"function": "Dispatch",
		"role":     role.String(),
		"app_id":   n.AppID,
		"status":   n.Status.String(),
		"class":    class.String(),
	}).Debug("Notification dispatched")

	switch class {
	case ClassSuccess:
		if latch != nil {
			latch.Release(Outcome{Success: true, Status: n.Status})
		}
	case ClassFailure:
		if latch != nil {
			latch.Release(Outcome{Success: false, Status: n.Status})
		}
	}

	return nil
}
