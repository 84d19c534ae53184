package playback

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heimdex/heimdex-annotator/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxReportBytes = 4096
	sendBuffer     = 64
)

type command struct {
	Type     string   `json:"type"`
	Position *float64 `json:"position,omitempty"`
	Seq      uint64   `json:"seq,omitempty"`
}

type report struct {
	Type     string   `json:"type"`
	Position *float64 `json:"position,omitempty"`
	Paused   *bool    `json:"paused,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Seq      uint64   `json:"seq,omitempty"`
	OK       bool     `json:"ok,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// RemoteElement is a media element living in a browser page. The page
// connects over a websocket, executes seek/play/pause commands and reports
// its state back. Commands update a local mirror immediately, the way an
// HTML media element updates currentTime and paused synchronously.
type RemoteElement struct {
	key    string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *link
	position float64
	duration float64
	paused   bool
	playSeq  uint64
	pending  map[uint64]chan error

	metadataHooks []func(float64)
	positionHooks []func(float64)
}

type link struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

func NewRemoteElement(key string, logger *slog.Logger) *RemoteElement {
	return &RemoteElement{
		key:     key,
		logger:  logger,
		paused:  true,
		pending: make(map[uint64]chan error),
	}
}

func (e *RemoteElement) Key() string {
	return e.key
}

// Attached reports whether a page currently drives the element.
func (e *RemoteElement) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Attach binds a page connection, replacing any previous one, and blocks
// until the connection closes.
func (e *RemoteElement) Attach(ws *websocket.Conn) {
	l := &link{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	e.mu.Lock()
	old := e.conn
	e.conn = l
	e.mu.Unlock()

	if old != nil {
		old.ws.Close()
	}
	metrics.SetAttached(e.key, true)
	e.logger.Info("media element attached", "video", e.key)

	go e.writePump(l)
	e.readPump(l)

	e.detach(l)
}

func (e *RemoteElement) detach(l *link) {
	close(l.done)
	l.ws.Close()

	e.mu.Lock()
	if e.conn != l {
		e.mu.Unlock()
		return
	}
	e.conn = nil
	e.paused = true
	pending := e.pending
	e.pending = make(map[uint64]chan error)
	e.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrDetached
	}
	metrics.SetAttached(e.key, false)
	e.logger.Info("media element detached", "video", e.key)
}

func (e *RemoteElement) readPump(l *link) {
	l.ws.SetReadLimit(maxReportBytes)
	l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		l.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Warn("media element read error", "video", e.key, "error", err)
			}
			return
		}

		var r report
		if err := json.Unmarshal(data, &r); err != nil {
			e.logger.Warn("invalid media element report", "video", e.key, "error", err)
			continue
		}
		e.apply(r)
	}
}

func (e *RemoteElement) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				l.ws.Close()
				return
			}
		case <-ticker.C:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.ws.Close()
				return
			}
		case <-l.done:
			return
		}
	}
}

func (e *RemoteElement) apply(r report) {
	var metaHooks, posHooks []func(float64)
	var duration, position float64

	e.mu.Lock()
	switch r.Type {
	case "metadata":
		if r.Duration != nil {
			e.duration = *r.Duration
			duration = e.duration
			metaHooks = append(metaHooks, e.metadataHooks...)
		}
	case "state":
		// A page reports paused until it has processed an outstanding play.
		if r.Paused != nil && (!*r.Paused || len(e.pending) == 0) {
			e.paused = *r.Paused
		}
		if r.Duration != nil {
			e.duration = *r.Duration
		}
		if r.Position != nil {
			e.position = *r.Position
			position = e.position
			posHooks = append(posHooks, e.positionHooks...)
		}
	case "play-result":
		if ch, ok := e.pending[r.Seq]; ok {
			delete(e.pending, r.Seq)
			if r.OK {
				ch <- nil
			} else {
				e.paused = true
				ch <- &PlayError{VideoKey: e.key, Reason: r.Error}
			}
		}
	default:
		e.logger.Debug("ignoring media element report", "video", e.key, "type", r.Type)
	}
	e.mu.Unlock()

	for _, fn := range metaHooks {
		fn(duration)
	}
	for _, fn := range posHooks {
		fn(position)
	}
}

func (e *RemoteElement) enqueueLocked(c command) error {
	if e.conn == nil {
		return ErrDetached
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	select {
	case e.conn.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (e *RemoteElement) Seek(t float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = t
	return e.enqueueLocked(command{Type: "seek", Position: &t})
}

func (e *RemoteElement) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.conn == nil {
		e.mu.Unlock()
		return ErrDetached
	}
	e.playSeq++
	seq := e.playSeq
	result := make(chan error, 1)
	e.pending[seq] = result
	e.paused = false
	if err := e.enqueueLocked(command{Type: "play", Seq: seq}); err != nil {
		delete(e.pending, seq)
		e.paused = true
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, seq)
		e.mu.Unlock()
		return ctx.Err()
	}
}

func (e *RemoteElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return e.enqueueLocked(command{Type: "pause"})
}

func (e *RemoteElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *RemoteElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *RemoteElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *RemoteElement) OnMetadata(fn func(duration float64)) {
	e.mu.Lock()
	e.metadataHooks = append(e.metadataHooks, fn)
	e.mu.Unlock()
}

func (e *RemoteElement) OnPosition(fn func(position float64)) {
	e.mu.Lock()
	e.positionHooks = append(e.positionHooks, fn)
	e.mu.Unlock()
}

// Close drops the current page connection, if any.
func (e *RemoteElement) Close() {
	e.mu.Lock()
	l := e.conn
	e.mu.Unlock()
	if l != nil {
		l.ws.Close()
	}
}
