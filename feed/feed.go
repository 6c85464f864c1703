// Package feed exposes the stream broker over WebSocket so dashboards can
// follow job lifecycle events in real time. Clients pick topics with the
// "topics" query parameter (comma separated); without it they receive the
// firehose.
package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/gpuflow/id"
	"github.com/xraph/gpuflow/stream"
)

// Server upgrades HTTP requests to WebSocket connections and relays
// broker events to each client.
type Server struct {
	broker *stream.Broker
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a feed server over the given broker.
func NewServer(broker *stream.Broker, opts ...Option) *Server {
	s := &Server{broker: broker, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	subID := id.NewSubID().String()
	sub := s.broker.Subscribe(subID, topics...)

	s.logger.Info("feed client connected",
		slog.String("subscriber_id", subID),
		slog.Any("topics", topics),
	)

	go s.writeLoop(conn, sub)
	go s.readLoop(conn, subID)
}

// writeLoop relays broker events to the client until the subscriber is
// closed. A write failure tears the subscription down.
func (s *Server) writeLoop(conn net.Conn, sub *stream.Subscriber) {
	defer conn.Close()

	for evt := range sub.C() {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := wsutil.WriteServerText(conn, data); err != nil {
			s.broker.RemoveSubscriber(sub.ID())
			return
		}
	}
}

// readLoop drains client frames so control messages are processed and
// detects disconnects. Clients may send subscribe/unsubscribe commands.
func (s *Server) readLoop(conn net.Conn, subID string) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			s.broker.RemoveSubscriber(subID)
			s.logger.Info("feed client disconnected", slog.String("subscriber_id", subID))
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		s.apply(subID, &cmd)
	}
}

// command is a client-to-server control message.
type command struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

func (s *Server) apply(subID string, cmd *command) {
	valid := cmd.Topics[:0]
	for _, t := range cmd.Topics {
		if stream.ValidateTopic(t) == nil {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return
	}

	switch cmd.Action {
	case "subscribe":
		s.broker.SubscribeTo(subID, valid...)
	case "unsubscribe":
		s.broker.Unsubscribe(subID, valid...)
	}
}

func parseTopics(raw string) ([]string, error) {
	if raw == "" {
		return []string{stream.TopicFirehose}, nil
	}

	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if err := stream.ValidateTopic(t); err != nil {
			return nil, fmt.Errorf("topic %q: %w", t, err)
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return []string{stream.TopicFirehose}, nil
	}
	return topics, nil
}
