// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"sort"
	"sync"

	"github.com/wfunc/joysync/logger"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
)

// Sender is the writable half of a connection.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// 广播接口，tick 和 session 只依赖它
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// DropFunc is notified when a sender is evicted after a failed send.
type DropFunc func(connID string, err error)

// Directory 连接ID -> 发送端，广播时发送失败的连接会被自动移除
type Directory struct {
	senders map[string]Sender
	mutex   sync.Mutex
	onDrop  DropFunc
}

func NewDirectory() *Directory {
	return &Directory{
		senders: make(map[string]Sender),
	}
}

// OnDrop registers a callback for evictions. Call it before the directory is shared.
func (d *Directory) OnDrop(fn DropFunc) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onDrop = fn
}

func (d *Directory) Add(connID string, s Sender) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.senders[connID] = s
}

// Remove deregisters connID and reports whether it was present.
func (d *Directory) Remove(connID string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, exists := d.senders[connID]; !exists {
		return false
	}
	delete(d.senders, connID)
	return true
}

func (d *Directory) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.senders)
}

// IDs returns the registered connection ids in sorted order.
func (d *Directory) IDs() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	ids := make([]string, 0, len(d.senders))
	for id := range d.senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type target struct {
	id     string
	sender Sender
}

// Broadcast sends payload to every registered connection and returns the
// number of successful deliveries. The lock is not held while sending.
func (d *Directory) Broadcast(payload []byte) int {
	d.mutex.Lock()
	targets := make([]target, 0, len(d.senders))
	for id, s := range d.senders {
		targets = append(targets, target{id: id, sender: s})
	}
	d.mutex.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.sender.Send(payload); err != nil {
			d.drop(t, err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo delivers payload to a single connection with the same eviction rule.
func (d *Directory) SendTo(connID string, payload []byte) error {
	d.mutex.Lock()
	s, exists := d.senders[connID]
	d.mutex.Unlock()
	if !exists {
		return ErrConnectionNotFound
	}

	if err := s.Send(payload); err != nil {
		d.drop(target{id: connID, sender: s}, err)
		return err
	}
	return nil
}

// CloseAll closes every registered sender without removing it; each owning
// session deregisters itself once its read loop ends.
func (d *Directory) CloseAll() int {
	d.mutex.Lock()
	senders := make([]Sender, 0, len(d.senders))
	for _, s := range d.senders {
		senders = append(senders, s)
	}
	d.mutex.Unlock()

	for _, s := range senders {
		_ = s.Close()
	}
	return len(senders)
}

func (d *Directory) drop(t target, err error) {
	d.mutex.Lock()
	// the id may have been re-added with a new sender since the copy was taken
	current, exists := d.senders[t.id]
	removed := exists && current == t.sender
	if removed {
		delete(d.senders, t.id)
	}
	onDrop := d.onDrop
	d.mutex.Unlock()

	if !removed {
		return
	}
	logger.Log.Warnf("Failed to send to %s, removed from broadcast: %v", t.id, err)
	_ = t.sender.Close()
	if onDrop != nil {
		onDrop(t.id, err)
	}
}
