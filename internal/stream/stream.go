// Package stream consumes raw monitoring-application records from a Redis
// stream and hands each to the event writer.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	merr "modelmon/internal/errors"
)

const readBlock = 5 * time.Second

// Handler processes one decoded stream record.
type Handler interface {
	Do(ctx context.Context, raw any) error
}

// Consumer tails one Redis stream and feeds a handler. Terminal per-event
// errors (malformed or incomplete records) are logged and skipped; other
// handler errors are logged and the entry is left behind the advancing
// cursor, so delivery here is at-most-once per entry.
type Consumer struct {
	client  *redis.Client
	stream  string
	handler Handler
}

func NewConsumer(client *redis.Client, stream string, handler Handler) *Consumer {
	return &Consumer{client: client, stream: stream, handler: handler}
}

// Run tails the stream until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("consuming stream %s", c.stream)
	cursor := "$"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, cursor},
			Block:   readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("reading stream %s failed: %v", c.stream, err)
			time.Sleep(time.Second)
			continue
		}
		for _, s := range streams {
			for _, entry := range s.Messages {
				cursor = entry.ID
				c.handle(ctx, entry)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, entry redis.XMessage) {
	raw, err := decodeEntry(entry)
	if err != nil {
		log.Printf("dropping stream entry %s: %v", entry.ID, err)
		return
	}
	if err := c.handler.Do(ctx, raw); err != nil {
		if merr.IsRejection(err) {
			// Already counted and logged by the handler; nothing to retry.
			return
		}
		log.Printf("processing stream entry %s failed: %v", entry.ID, err)
	}
}

// decodeEntry unwraps the record. Producers write the whole record as one
// JSON value under the "payload" field; entries carrying flat field/value
// pairs pass through as-is.
func decodeEntry(entry redis.XMessage) (any, error) {
	if payload, ok := entry.Values["payload"]; ok {
		s, ok := payload.(string)
		if !ok {
			return nil, merr.Wrapf(merr.ErrMalformedEvent, "payload of type %T", payload)
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			return nil, merr.Wrapf(merr.ErrMalformedEvent, "decoding payload: %v", err)
		}
		return record, nil
	}
	record := make(map[string]any, len(entry.Values))
	for k, v := range entry.Values {
		record[k] = v
	}
	return record, nil
}
