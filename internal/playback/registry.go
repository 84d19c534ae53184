package playback

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gorilla/websocket"
)

// The API only listens on the loopback interface; the annotation page may be
// served from the crowdsourcing host's origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Registry holds one remote element per media element key.
type Registry struct {
	elements map[string]*RemoteElement
	logger   *slog.Logger
}

func NewRegistry(keys []string, logger *slog.Logger) *Registry {
	r := &Registry{
		elements: make(map[string]*RemoteElement, len(keys)),
		logger:   logger,
	}
	for _, k := range keys {
		r.elements[k] = NewRemoteElement(k, logger)
	}
	return r
}

func (r *Registry) Get(key string) (*RemoteElement, bool) {
	el, ok := r.elements[key]
	return el, ok
}

// Elements returns every element behind the Element interface.
func (r *Registry) Elements() map[string]Element {
	out := make(map[string]Element, len(r.elements))
	for k, el := range r.elements {
		out[k] = el
	}
	return out
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.elements))
	for k := range r.elements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ServeWS upgrades the request and binds it to the element for key.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request, key string) {
	el, ok := r.elements[key]
	if !ok {
		http.Error(w, "unknown video", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("media element upgrade failed", "video", key, "error", err)
		return
	}
	el.Attach(conn)
}

// Close disconnects every attached page.
func (r *Registry) Close() {
	for _, el := range r.elements {
		el.Close()
	}
}
