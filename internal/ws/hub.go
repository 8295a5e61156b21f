package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by organization ID. Every event the
// controller receives for an organization is fanned out to all of its
// connected clients. All map access happens on the run goroutine.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with organization identifier.
type message struct {
	organizationID string
	payload        []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	organizationID string
	client         Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.organizationID]; !ok {
				h.clients[sub.organizationID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.organizationID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.organizationID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.organizationID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.organizationID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.organizationID)
				}
			}
		}
	}
}

// Register adds a client to an organization stream.
func (h *Hub) Register(organizationID string, client Subscriber) {
	h.register <- subscription{organizationID: organizationID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(organizationID string, client Subscriber) {
	h.unreg <- subscription{organizationID: organizationID, client: client}
}

// Broadcast sends payload to all organization clients.
func (h *Hub) Broadcast(organizationID string, payload []byte) {
	h.broadcast <- message{organizationID: organizationID, payload: payload}
}
