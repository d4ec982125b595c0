package bridge

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/simpit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/simpit-core/internal/input"
)

// CommandEnvelope is the JSON body published for each input command.
type CommandEnvelope struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Arg       string    `json:"arg"`
	PanelID   string    `json:"panel_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandPublisher is an input.Sender publishing every command to
// simpit/command/{name}. Send never blocks; commands are dropped and
// counted while the publish queue is full.
type CommandPublisher struct {
	pub     Publisher
	panelID string
	qos     byte
	now     func() time.Time

	queue *queue[CommandEnvelope]

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	logger Logger
}

var _ input.Sender = (*CommandPublisher)(nil)

// NewCommandPublisher creates a CommandPublisher. Call Close to stop it.
func NewCommandPublisher(pub Publisher, panelID string, qos byte, queueSize int) *CommandPublisher {
	c := &CommandPublisher{
		pub:     pub,
		panelID: panelID,
		qos:     qos,
		now:     time.Now,
		logger:  noopLogger{},
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c.queue = newQueue(queueSize, c.publish)
	return c
}

// SetLogger sets the logger.
func (c *CommandPublisher) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Send queues msg with a fresh message id.
func (c *CommandPublisher) Send(msg input.Message) {
	env := CommandEnvelope{
		ID:        uuid.NewString(),
		Name:      msg.Name,
		Arg:       msg.Arg,
		PanelID:   c.panelID,
		Timestamp: c.now().UTC(),
	}
	if !c.queue.offer(env) {
		c.dropped.Add(1)
	}
}

func (c *CommandPublisher) publish(env CommandEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.failed.Add(1)
		return
	}
	if err := c.pub.Publish(mqtt.Topics{}.Command(env.Name), payload, c.qos, false); err != nil {
		c.failed.Add(1)
		c.logger.Warn("command publish failed", "name", env.Name, "id", env.ID, "error", err)
		return
	}
	c.published.Add(1)
}

// Published returns the number of commands sent.
func (c *CommandPublisher) Published() uint64 { return c.published.Load() }

// Failed returns the number of commands the broker did not accept.
func (c *CommandPublisher) Failed() uint64 { return c.failed.Load() }

// Dropped returns the number of commands dropped while the queue was full.
func (c *CommandPublisher) Dropped() uint64 { return c.dropped.Load() }

// Close publishes queued commands and stops the publisher.
func (c *CommandPublisher) Close() {
	c.queue.close()
}
