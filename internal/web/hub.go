package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 16
	writeWait         = 2 * time.Second
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// Hub fans telemetry frames out to websocket clients. Slow clients miss
// frames rather than holding up the broadcaster.
type Hub struct {
	// forward holds frames to send to every client.
	forward chan []byte
	join    chan *client
	leave   chan *client
	count   chan chan int
	done    chan struct{}
	clients map[*client]bool
}

type client struct {
	socket *websocket.Conn
	send   chan []byte
}

// NewHub creates a hub. Run must be called for it to deliver anything.
func NewHub() *Hub {
	return &Hub{
		forward: make(chan []byte, 1),
		join:    make(chan *client),
		leave:   make(chan *client),
		count:   make(chan chan int),
		done:    make(chan struct{}),
		clients: make(map[*client]bool),
	}
}

// Run delivers frames until ctx is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.join:
			h.clients[c] = true
			log.Printf("web: live client joined (%d connected)", len(h.clients))
		case c := <-h.leave:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				log.Printf("web: live client left (%d connected)", len(h.clients))
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case msg := <-h.forward:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
		}
	}
}

// Broadcast queues a frame for all clients. It never blocks: if the previous
// frame has not been picked up yet it is replaced.
func (h *Hub) Broadcast(msg []byte) {
	for {
		select {
		case h.forward <- msg:
			return
		default:
		}
		select {
		case <-h.forward:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-h.done:
		return 0, context.Canceled
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-reply, nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	c := &client{socket: socket, send: make(chan []byte, messageBufferSize)}

	select {
	case h.join <- c:
	case <-h.done:
		socket.Close()
		return
	}
	go c.write()
	c.read()

	select {
	case h.leave <- c:
	case <-h.done:
	}
}

// read discards client messages and returns when the connection closes.
func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
