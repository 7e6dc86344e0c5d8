package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/circularbuffer"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/schema"
)

const subscriberBuffer = 64

// EventBroker fans terminal job events out to in-process subscribers, keeps
// a bounded replay history, and delivers per-job webhooks. A NATS connection
// is optional; without one events stay in-process.
type EventBroker struct {
	mu          sync.Mutex
	seq         int64
	history     *circularbuffer.Queue[schema.CompletionEvent]
	subscribers map[int64]chan schema.CompletionEvent
	nextSub     int64
	closed      bool

	nc          *nats.Conn
	natsSubject string

	client       *http.Client
	webhookWaits []time.Duration
}

func NewEventBroker(historySize int, webhookTimeout time.Duration) *EventBroker {
	if historySize <= 0 {
		historySize = 256
	}
	if webhookTimeout <= 0 {
		webhookTimeout = 30 * time.Second
	}
	return &EventBroker{
		history:      circularbuffer.New[schema.CompletionEvent](historySize),
		subscribers:  map[int64]chan schema.CompletionEvent{},
		client:       &http.Client{Timeout: webhookTimeout},
		webhookWaits: []time.Duration{1 * time.Second, 2 * time.Second},
	}
}

// ConnectNATS attaches an external event bus. Completion events are then
// mirrored to the given subject.
func (b *EventBroker) ConnectNATS(url, subject string) error {
	if subject == "" {
		subject = "transcription.completed"
	}
	nc, err := nats.Connect(url,
		nats.Name("verbatim-event-broker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	b.mu.Lock()
	b.nc = nc
	b.natsSubject = subject
	b.mu.Unlock()
	log.Info().Str("url", url).Str("subject", subject).Msg("event broker connected to NATS")
	return nil
}

// PublishJob emits the completion event for a job that reached a terminal
// state. The sequence number is assigned here and strictly increases for the
// lifetime of the broker. Webhook delivery runs asynchronously so a slow
// receiver cannot stall the pipeline.
func (b *EventBroker) PublishJob(job *schema.TranscriptionJob) schema.CompletionEvent {
	ev := schema.CompletionEvent{
		JobID:          job.ID,
		MeetingID:      job.MeetingID,
		OrganizationID: job.OrganizationID,
		State:          job.State,
		Transcript:     job.Transcript,
		Error:          job.Error,
		Attempts:       job.Attempts,
		EmittedAt:      time.Now().UTC(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ev
	}
	b.seq++
	ev.Seq = b.seq
	b.history.Enqueue(ev)
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Int64("subscriber", id).
				Str("job_id", ev.JobID).
				Msg("subscriber buffer full, dropping event")
		}
	}
	nc, subject := b.nc, b.natsSubject
	b.mu.Unlock()

	if nc != nil {
		publishNATS(nc, subject, ev)
	}
	if job.CallbackURL != "" {
		go b.deliverWebhook(job.CallbackURL, ev)
	}
	return ev
}

// Subscribe registers a consumer. The returned channel is buffered; a
// consumer that falls more than subscriberBuffer events behind loses the
// overflow and can detect the gap through Seq.
func (b *EventBroker) Subscribe() (int64, <-chan schema.CompletionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	ch := make(chan schema.CompletionEvent, subscriberBuffer)
	b.subscribers[id] = ch
	return id, ch
}

func (b *EventBroker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Recent returns up to n retained events ordered oldest first. n <= 0 means
// the whole history.
func (b *EventBroker) Recent(n int) []schema.CompletionEvent {
	b.mu.Lock()
	events := b.history.Values()
	b.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

// Close stops fan-out, closes subscriber channels and drains the NATS
// connection. Events published after Close are dropped.
func (b *EventBroker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	nc := b.nc
	b.nc = nil
	b.mu.Unlock()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("draining NATS connection")
		}
	}
}

func publishNATS(nc *nats.Conn, subject string, ev schema.CompletionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("job_id", ev.JobID).Msg("failed to encode completion event")
		return
	}
	if err := nc.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Str("job_id", ev.JobID).Msg("NATS publish failed")
	}
}

func (b *EventBroker) deliverWebhook(url string, ev schema.CompletionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("job_id", ev.JobID).Msg("failed to build webhook payload")
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		log.Error().Err(err).Str("job_id", ev.JobID).Msg("failed to create webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if err := b.executeWithRetry(req, payload); err != nil {
		log.Error().Err(err).Str("job_id", ev.JobID).Str("url", url).Msg("webhook delivery failed")
		return
	}
	log.Debug().Str("job_id", ev.JobID).Str("url", url).Msg("webhook delivered")
}

// executeWithRetry sends the request, recreating the body between attempts
// since a failed send may have consumed it.
func (b *EventBroker) executeWithRetry(req *http.Request, payload []byte) error {
	attempts := len(b.webhookWaits) + 1

	var lastStatus int
	for i := 0; i < attempts; i++ {
		req.Body = io.NopCloser(bytes.NewReader(payload))
		resp, err := b.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			lastStatus = resp.StatusCode
			resp.Body.Close()
		}
		if i < attempts-1 {
			time.Sleep(b.webhookWaits[i])
		}
	}

	if lastStatus != 0 {
		return fmt.Errorf("gave up after %d attempts, last status %d", attempts, lastStatus)
	}
	return fmt.Errorf("gave up after %d attempts", attempts)
}
