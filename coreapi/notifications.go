package coreapi

import (
	"fmt"
	"sync"
)

// NotificationType identifies what kind of event a Notification
// carries. Grounded on domain/blockdag/notifications.go's
// NotificationType, narrowed from the DAG's four event kinds (block
// added, chain changed, finality conflict raised/resolved) to the two
// spec.md's external-collaborator surface actually promises:
// new-block and new-transaction.
type NotificationType int

const (
	// NTBlockAdded indicates a new block was accepted onto the chain,
	// whether self-mined or relayed. Data is a *chainmodel.Block.
	NTBlockAdded NotificationType = iota
	// NTTransactionAdded indicates a transaction was admitted into the
	// mempool. Data is a *chainmodel.Transaction.
	NTTransactionAdded
)

var notificationTypeNames = map[NotificationType]string{
	NTBlockAdded:       "NTBlockAdded",
	NTTransactionAdded: "NTTransactionAdded",
}

func (t NotificationType) String() string {
	if s, ok := notificationTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown notification type (%d)", int(t))
}

// Notification is delivered to every subscribed callback.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// NotificationCallback receives Notifications from a Context.
type NotificationCallback func(*Notification)

// NotificationManager fans out notifications to every subscriber,
// grounded on blockdag.BlockDAG's notifications slice plus lock.
type NotificationManager struct {
	mtx       sync.RWMutex
	callbacks []NotificationCallback
}

// NewNotificationManager builds an empty NotificationManager.
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{}
}

func (m *NotificationManager) subscribe(callback NotificationCallback) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

func (m *NotificationManager) notify(n Notification) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for _, callback := range m.callbacks {
		callback(&n)
	}
}
