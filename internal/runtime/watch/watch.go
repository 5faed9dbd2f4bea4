// Package watch turns filesystem events into isolate messages: an
// embedder opens a port, attaches a watcher to it, and the owning
// isolate receives one data message per event. Delivery piggybacks on
// normal port semantics, so closing the port quietly drops further
// events.
package watch

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/loop"
	"github.com/loam-lang/loam/internal/runtime/rtlog"
)

// Poster accepts messages for local dispatch. loop.MessageLoop
// satisfies it.
type Poster interface {
	PostMessage(m *loop.IsolateMessage)
}

// Watcher forwards OS file notifications to one port.
type Watcher struct {
	fw     *fsnotify.Watcher
	poster Poster
	port   loop.Port
}

// New creates a watcher posting events to port via poster.
func New(poster Poster, port loop.Port) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fw: fw, poster: poster, port: port}
	go w.forward()
	return w, nil
}

func (w *Watcher) forward() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.poster.PostMessage(loop.NewDataMessage(w.port, EncodeEvent(ev)))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			rtlog.Logger().Warn("watch error", zap.Error(err))
		}
	}
}

// Add starts watching name.
func (w *Watcher) Add(name string) error { return w.fw.Add(name) }

// Remove stops watching name.
func (w *Watcher) Remove(name string) error { return w.fw.Remove(name) }

// Close stops the watcher. Events already posted remain queued on the
// destination loop.
func (w *Watcher) Close() error { return w.fw.Close() }

// EncodeEvent renders an event as "OP\tpath" payload bytes. The op
// string is fsnotify's (CREATE, WRITE, REMOVE, RENAME, CHMOD, or a
// |-joined combination).
func EncodeEvent(ev fsnotify.Event) []byte {
	return []byte(ev.Op.String() + "\t" + ev.Name)
}
