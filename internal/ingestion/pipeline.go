package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/mqtt2hass/internal/metrics"
	"github.com/jkaflik/mqtt2hass/internal/recorder"
	"github.com/jkaflik/mqtt2hass/pkg/channel"
)

// Message is one raw inbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// HistoryWriter commits one resolved record atomically.
type HistoryWriter interface {
	WriteState(ctx context.Context, w recorder.StateWrite) error
}

const defaultInboundBuffer = 256

// Pipeline consumes inbound messages and drives each record through
// decode → timestamp check → entity resolution → transactional write.
// Messages are processed by a bounded worker pool; records within one message
// apply strictly in order, and records for the same entity are serialized
// across messages. Record-level failures never affect sibling records.
type Pipeline struct {
	Decoder   *Decoder
	Validator *Validator
	Resolver  *Resolver
	Writer    HistoryWriter

	// Workers bounds the number of messages processed concurrently.
	Workers int

	// WriteTimeout bounds each store transaction.
	WriteTimeout time.Duration

	locks *keyedMutex
}

// Run processes messages until in is closed or ctx is canceled. In-flight
// records finish before Run returns, so shutdown never leaves a half-written
// row behind.
func (p *Pipeline) Run(ctx context.Context, in <-chan Message) {
	if p.locks == nil {
		p.locks = newKeyedMutex()
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	messages := channel.Filter(
		channel.Buffered(in, defaultInboundBuffer),
		func(m Message) bool { return len(m.Payload) > 0 },
	)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-messages:
					if !ok {
						return
					}
					p.handleMessage(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
}

func (p *Pipeline) handleMessage(ctx context.Context, msg Message) {
	metrics.MessagesReceived.Inc()

	records, err := p.Decoder.Decode(msg.Topic, msg.Payload)
	if err != nil {
		metrics.MessagesDropped.Inc()
		log.Error().Err(err).Str("topic", msg.Topic).Msg("Dropping undecodable message")
		return
	}

	// Records of one message apply in array order; a rejected record must
	// not stop its siblings.
	for _, record := range records {
		if err := p.processRecord(ctx, record); err != nil {
			reason := rejectionReason(err)
			metrics.RecordsRejected.WithLabelValues(reason).Inc()
			log.Warn().
				Err(err).
				Str("entity_id", record.EntityID).
				Str("reason", reason).
				Msg("Rejected history record")
			continue
		}
		metrics.RecordsCommitted.Inc()
	}
}

func (p *Pipeline) processRecord(ctx context.Context, record Record) error {
	timestamp, err := p.Validator.Validate(record.Timestamp)
	if err != nil {
		return err
	}

	metadataID, err := p.Resolver.Resolve(ctx, record.EntityID, record.Attributes)
	if err != nil {
		return err
	}

	unlock := p.locks.Lock(record.EntityID)
	defer unlock()

	writeCtx := ctx
	if p.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, p.WriteTimeout)
		defer cancel()
	}

	err = p.Writer.WriteState(writeCtx, recorder.StateWrite{
		EntityID:   record.EntityID,
		MetadataID: metadataID,
		State:      record.State,
		Timestamp:  timestamp,
		Attributes: record.Attributes,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().
			Err(err).
			Str("entity_id", record.EntityID).
			Time("timestamp", timestamp).
			Msg("Failed to write history record")
	}
	return err
}
