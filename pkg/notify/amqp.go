package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes notification messages to a fanout exchange; the
// mailer consuming them lives outside this service.
type AMQPNotifier struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	url       string
	exchange  string
	templates *TemplateStore
}

// Message is the envelope published per notification.
type Message struct {
	Template  string            `json:"template"`
	Recipient string            `json:"recipient"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	SentAt    time.Time         `json:"sentAt"`
}

// NewAMQPNotifier connects to the broker and declares the exchange.
func NewAMQPNotifier(url, exchange string, templates *TemplateStore) (*AMQPNotifier, error) {
	n := &AMQPNotifier{url: url, exchange: exchange, templates: templates}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(n.exchange, "fanout", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	n.conn = conn
	n.channel = channel
	return nil
}

// SendTemplate renders and publishes one notification.
func (n *AMQPNotifier) SendTemplate(templateName, recipientUserID string, data map[string]string) error {
	body, err := n.templates.Render(templateName, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Message{
		Template:  templateName,
		Recipient: recipientUserID,
		Body:      body,
		Data:      data,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channel.Publish(n.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close shuts down the broker connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
