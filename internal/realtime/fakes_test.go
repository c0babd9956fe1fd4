package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"btplive/internal/models"
	"btplive/internal/retry"
)

type fakeConn struct {
	readCh    chan models.Frame
	writeCh   chan models.Frame
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:  make(chan models.Frame, 100),
		writeCh: make(chan models.Frame, 100),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	if c.closed() {
		return errors.New("connection closed")
	}
	frame, ok := v.(models.Frame)
	if !ok {
		return errors.New("unexpected frame type")
	}
	c.writeCh <- frame
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case frame := <-c.readCh:
		if ptr, ok := v.(*models.Frame); ok {
			*ptr = frame
		}
		return nil
	case <-c.closeCh:
		return errors.New("connection closed")
	}
}

// push queues a server frame.
func (c *fakeConn) push(event string, payload any) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		panic(err)
	}
	c.readCh <- frame
}

// written drains the frames the client wrote so far.
func (c *fakeConn) written() []models.Frame {
	var frames []models.Frame
	for {
		select {
		case f := <-c.writeCh:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

type fakeDialer struct {
	mu          sync.Mutex
	dials       int
	credentials []string
	dial        func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string, credential string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.credentials = append(d.credentials, credential)
	dial := d.dial
	d.mu.Unlock()
	return dial(n)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastReconnect() retry.Config {
	return retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Factor:       2,
		DelayFirst:   true,
	}
}

func newTestManager(d *fakeDialer) *Manager {
	return NewManager(Config{
		URL:       "ws://test/chat",
		Dialer:    d,
		Reconnect: fastReconnect(),
	})
}

// recordingEmitter captures emitted events; it fails like a manager without
// a connection when offline is set.
type recordingEmitter struct {
	mu      sync.Mutex
	offline bool
	events  []string
	frames  []models.Frame
}

func (e *recordingEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offline {
		return ErrNotConnected
	}
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		return err
	}
	e.events = append(e.events, event)
	e.frames = append(e.frames, frame)
	return nil
}

func (e *recordingEmitter) setOffline(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offline = v
}

func (e *recordingEmitter) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	copy(out, e.events)
	return out
}

func (e *recordingEmitter) lastPayload() json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1].Data
}

type fakeNotificationAPI struct {
	mu           sync.Mutex
	items        []models.Notification
	count        int
	markReadErr  error
	markAllErr   error
	listErr      error
	markedRead   []string
	markAllCalls int

	// when set, the call announces itself on started and blocks until
	// release is closed
	listStarted, listRelease chan struct{}
	markStarted, markRelease chan struct{}
}

func hold(started, release chan struct{}) {
	if started == nil {
		return
	}
	started <- struct{}{}
	<-release
}

func (a *fakeNotificationAPI) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	hold(a.listStarted, a.listRelease)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	out := make([]models.Notification, len(a.items))
	copy(out, a.items)
	return out, nil
}

func (a *fakeNotificationAPI) UnreadCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count, nil
}

func (a *fakeNotificationAPI) MarkRead(ctx context.Context, id string) error {
	hold(a.markStarted, a.markRelease)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markedRead = append(a.markedRead, id)
	return a.markReadErr
}

func (a *fakeNotificationAPI) MarkAllRead(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markAllCalls++
	return a.markAllErr
}

func (a *fakeNotificationAPI) setCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count = n
}
