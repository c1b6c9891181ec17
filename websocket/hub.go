package websocket

import (
	"context"
	"time"

	"mixdeck/services"
	"mixdeck/types"

	"github.com/sirupsen/logrus"
)

const broadcastBuffer = 256

// Hub interface defines the methods for managing WebSocket connections.
// A Hub is also the manager's services.Notifier.
type Hub interface {
	services.Notifier
	Run(ctx context.Context)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
}

// hub maintains the set of active clients and fans updates out to them
type hub struct {
	// Registered clients mapped by topic: a job id, a batch id or TopicAll
	clients map[string]map[*Client]bool

	broadcast  chan types.ProgressMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	log *logrus.Entry
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.ProgressMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logrus.WithField("component", "websocket-hub"),
	}
}

// Run starts the hub's main event loop. Only Run touches the client map.
func (h *hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for topic, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, topic)
			}
			return

		case client := <-h.register:
			if h.clients[client.topic] == nil {
				h.clients[client.topic] = make(map[*Client]bool)
			}
			h.clients[client.topic][client] = true
			h.log.WithField("topic", client.topic).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.remove(client.topic, client)
			h.log.WithField("topic", client.topic).Debug("WebSocket client disconnected")

		case message := <-h.broadcast:
			seen := make(map[*Client]bool)
			for _, topic := range []string{message.JobID, message.BatchID, TopicAll} {
				if topic == "" {
					continue
				}
				for client := range h.clients[topic] {
					if seen[client] {
						continue
					}
					seen[client] = true
					select {
					case client.send <- message:
					default:
						h.log.WithField("topic", topic).Warn("WebSocket client too slow, dropping connection")
						h.remove(topic, client)
					}
				}
			}
		}
	}
}

func (h *hub) remove(topic string, client *Client) {
	clients, ok := h.clients[topic]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// JobUpdated queues a job snapshot for delivery without blocking
func (h *hub) JobUpdated(job types.Job) {
	h.publish(JobMessage(job))
}

// BatchUpdated queues a batch snapshot for delivery without blocking
func (h *hub) BatchUpdated(batch types.Batch) {
	h.publish(BatchMessage(batch))
}

func (h *hub) publish(msg types.ProgressMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.WithFields(logrus.Fields{
			"job_id":   msg.JobID,
			"batch_id": msg.BatchID,
		}).Warn("WebSocket broadcast channel full, dropping message")
	}
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JobMessage converts a job snapshot into a progress message
func JobMessage(job types.Job) types.ProgressMessage {
	msgType := MessageProgress
	switch job.Status {
	case types.JobStateCompleted:
		msgType = MessageComplete
	case types.JobStateFailed:
		msgType = MessageError
	case types.JobStateCancelled:
		msgType = MessageCancelled
	}

	return types.ProgressMessage{
		JobID:     job.ID,
		BatchID:   job.BatchID,
		Type:      msgType,
		Progress:  job.Progress,
		Status:    string(job.Status),
		Message:   job.Error,
		Job:       &job,
		Timestamp: time.Now(),
	}
}

// BatchMessage converts a batch snapshot into a progress message. Progress is
// the share of member jobs that are terminal.
func BatchMessage(batch types.Batch) types.ProgressMessage {
	var progress float64
	if batch.TotalTracks > 0 {
		progress = float64(batch.Done()) / float64(batch.TotalTracks) * 100
	}

	return types.ProgressMessage{
		BatchID:   batch.ID,
		Type:      MessageBatch,
		Progress:  progress,
		Status:    string(batch.Status),
		Batch:     &batch,
		Timestamp: time.Now(),
	}
}
