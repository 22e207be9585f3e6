package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 4096
	controlBacklog = 8
)

// EventsHandler serves the live event websocket. Each connection starts
// with no topics; clients send subscribe and unsubscribe frames for
// "builds" and "jobs", or pass ?topics=builds,jobs to start subscribed.
type EventsHandler struct {
	broker   *events.Broker
	metrics  *metrics.Recorder
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates the websocket hub handler. rec may be nil.
func NewEventsHandler(broker *events.Broker, rec *metrics.Recorder, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		broker:  broker,
		metrics: rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

type topicCommand struct {
	subscribe bool
	topic     string
}

// Stream handles GET /v1/events.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	owner := "ws:" + uuid.NewString()
	log := h.logger.With("owner", owner, "remote_addr", r.RemoteAddr)
	log.Info("event socket connected")

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	defer h.broker.ReleaseOwner(owner)

	commands := make(chan topicCommand, controlBacklog)
	for _, topic := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if topic = strings.TrimSpace(topic); !validTopic(topic) {
			continue
		}
		select {
		case commands <- topicCommand{subscribe: true, topic: topic}:
		default:
		}
	}

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	go h.read(conn, log, commands, readerDone, writerDone)

	h.write(conn, log, owner, commands, readerDone)
	close(writerDone)
	log.Info("event socket closed")
}

// read consumes client frames until the connection fails. It is the only
// reader of conn.
func (h *EventsHandler) read(conn *websocket.Conn, log *slog.Logger, commands chan<- topicCommand, done chan<- struct{}, writerDone <-chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("event socket read failed", "error", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug("ignoring undecodable frame", "error", err)
			continue
		}

		var cmd topicCommand
		switch env.Type {
		case models.KindSubscribe:
			cmd.subscribe = true
		case models.KindUnsubscribe:
		default:
			log.Debug("ignoring frame", "type", env.Type)
			continue
		}

		var req models.TopicRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || !validTopic(req.Topic) {
			log.Debug("ignoring frame with bad topic", "type", env.Type)
			continue
		}
		cmd.topic = req.Topic

		select {
		case commands <- cmd:
		case <-writerDone:
			return
		}
	}
}

// write owns the connection's subscriptions and is the only writer of conn.
func (h *EventsHandler) write(conn *websocket.Conn, log *slog.Logger, owner string, commands <-chan topicCommand, readerDone <-chan struct{}) {
	var (
		builds *events.Subscription[models.Build]
		jobs   *events.Subscription[models.JobEvent]
	)
	defer func() {
		if builds != nil {
			builds.Release()
		}
		if jobs != nil {
			jobs.Release()
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var buildCh <-chan models.Build
		if builds != nil {
			buildCh = builds.Events()
		}
		var jobCh <-chan models.JobEvent
		if jobs != nil {
			jobCh = jobs.Events()
		}

		select {
		case <-readerDone:
			return

		case cmd := <-commands:
			switch {
			case cmd.topic == models.TopicBuilds && cmd.subscribe && builds == nil:
				builds = h.broker.SubscribeBuilds(owner)
			case cmd.topic == models.TopicBuilds && !cmd.subscribe && builds != nil:
				builds.Release()
				builds = nil
			case cmd.topic == models.TopicJobs && cmd.subscribe && jobs == nil:
				jobs = h.broker.SubscribeJobs(owner)
			case cmd.topic == models.TopicJobs && !cmd.subscribe && jobs != nil:
				jobs.Release()
				jobs = nil
			}
			log.Debug("topic command", "topic", cmd.topic, "subscribe", cmd.subscribe)

		case b, ok := <-buildCh:
			if !ok {
				builds = nil
				continue
			}
			if err := send(conn, models.KindBuildCreated, b); err != nil {
				log.Debug("event socket write failed", "error", err)
				return
			}

		case ev, ok := <-jobCh:
			if !ok {
				jobs = nil
				continue
			}
			if err := send(conn, models.KindJobUpdated, ev); err != nil {
				log.Debug("event socket write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func send(conn *websocket.Conn, kind string, data any) error {
	env, err := models.NewEnvelope(kind, data)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

func validTopic(topic string) bool {
	return topic == models.TopicBuilds || topic == models.TopicJobs
}
