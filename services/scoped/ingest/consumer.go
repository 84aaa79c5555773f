// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest consumes sample lines from Kafka and writes them to the
// sample store. The Kafka topic name is the scope topic; each message value
// holds one or more newline-separated lines.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
	"github.com/AleutianAI/AleutianScope/services/scoped/telemetry"
)

// DefaultGroup is the consumer group used when Config.Group is empty.
const DefaultGroup = "aleutian-scope-ingest"

var (
	// ErrNoBrokers is returned by NewConsumer without seed brokers.
	ErrNoBrokers = errors.New("ingest: no kafka brokers configured")

	// ErrStore marks a message whose points could not be written. Such a
	// message is retried, never skipped.
	ErrStore = errors.New("ingest: store write failed")
)

const (
	retryBase = 500 * time.Millisecond
	retryMax  = 30 * time.Second
)

// Config selects the brokers and topics to consume.
type Config struct {
	Brokers []string
	Group   string
	Topics  []string
}

// Consumer moves Kafka messages into a samples.Store.
type Consumer struct {
	client *kgo.Client
	store  samples.Store
	logger *logging.Logger

	commit func(context.Context) error
	after  func(time.Duration) <-chan time.Time
}

// NewConsumer connects a consumer-group client. Offsets are committed only
// after the polled batch has been stored.
func NewConsumer(cfg Config, store samples.Store, logger *logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("ingest: no topics configured")
	}
	if err := validation.ValidateIdents("topic", cfg.Topics); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if logger == nil {
		logger = logging.Discard()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Consumer{
		client: client,
		store:  store,
		logger: logger.With("component", "ingest"),
		commit: client.CommitUncommittedOffsets,
		after:  time.After,
	}, nil
}

// Run polls until ctx is cancelled. Unparseable lines are logged and
// counted; a failed store write holds the batch, uncommitted, until it
// succeeds.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	c.logger.Info("kafka ingest started")

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("kafka fetch failed", "topic", topic, "partition", partition, "error", err)
		})

		if !c.settle(ctx, fetches.Records()) {
			return nil
		}
	}
}

// settle stores every record of a polled batch and then commits. Lines that
// do not parse are dropped; store failures are retried with backoff until
// they succeed. It returns false, without committing, when ctx ends first.
func (c *Consumer) settle(ctx context.Context, recs []*kgo.Record) bool {
	for _, rec := range recs {
		if !c.store1(ctx, rec) {
			return false
		}
	}
	if err := c.commit(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("kafka commit failed", "error", err)
	}
	return true
}

func (c *Consumer) store1(ctx context.Context, rec *kgo.Record) bool {
	delay := retryBase
	for attempt := 1; ; attempt++ {
		_, err := c.Handle(ctx, rec.Topic, rec.Value)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrStore) {
			c.logger.Warn("ingest lines dropped", "topic", rec.Topic, "offset", rec.Offset, "error", err)
			return true
		}
		c.logger.Warn("ingest write failed, retrying",
			"topic", rec.Topic, "offset", rec.Offset, "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-c.after(delay):
		}
		delay = min(delay*2, retryMax)
	}
}

// Handle parses and stores every line of one message value, returning the
// number of points written. Bad lines are skipped and reported together; a
// failed write is reported as ErrStore.
func (c *Consumer) Handle(ctx context.Context, topic string, value []byte) (int, error) {
	return handle(ctx, c.store, topic, value)
}

func handle(ctx context.Context, store samples.Store, topic string, value []byte) (int, error) {
	m := telemetry.Metrics()
	var points []samples.Point
	var errs []error
	for _, line := range bytes.Split(value, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			errs = append(errs, err)
			m.IngestErrors.Add(ctx, 1)
			continue
		}
		points = append(points, msg.Point(topic))
	}
	if len(points) > 0 {
		if err := store.Write(ctx, points...); err != nil {
			m.IngestErrors.Add(ctx, int64(len(points)))
			return 0, errors.Join(append(errs, fmt.Errorf("%w: %w", ErrStore, err))...)
		}
		m.Stored(ctx, "kafka", len(points))
	}
	return len(points), errors.Join(errs...)
}
