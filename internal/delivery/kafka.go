// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cardinalhq/recordflow/internal/fly"
)

// kafkaWriter publishes one message per record. Producers are kept per
// destination for the life of the engine.
type kafkaWriter struct {
	timeout time.Duration

	mu        sync.Mutex
	producers map[string]fly.Producer
}

func newKafkaWriter(timeout time.Duration) *kafkaWriter {
	return &kafkaWriter{timeout: timeout, producers: map[string]fly.Producer{}}
}

func (w *kafkaWriter) producer(d *Destination) (fly.Producer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.producers[d.ID]; ok {
		return p, nil
	}
	p, err := fly.NewFactory(d.Kafka.FlyConfig(w.timeout)).CreateProducer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	w.producers[d.ID] = p
	return p, nil
}

func (w *kafkaWriter) Write(ctx context.Context, d *Destination, p Payload) (int64, error) {
	if d.Kafka == nil || d.Kafka.Topic == "" {
		return 0, fmt.Errorf("%w: kafka topic is required", ErrConfiguration)
	}
	producer, err := w.producer(d)
	if err != nil {
		return 0, err
	}

	keyPattern := d.Output.KeyPattern
	if keyPattern == "" {
		keyPattern = "{filename}"
	}
	key := expandPattern(keyPattern, p.FileName, p.DataSource, p.At)

	msgs := make([]fly.Message, 0, len(p.Records))
	var total int64
	for i, rec := range p.Records {
		var buf bytes.Buffer
		if err := json.Compact(&buf, rec); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		headers := map[string]string{
			"datasource": p.DataSource,
			"filename":   p.FileName,
		}
		if p.Invalid {
			headers["invalid"] = "true"
		}
		for k, v := range d.Output.Headers {
			headers[k] = v
		}
		total += int64(buf.Len())
		msgs = append(msgs, fly.Message{Key: recordKey(key, i), Value: buf.Bytes(), Headers: headers})
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := producer.BatchSend(ctx, d.Kafka.Topic, msgs); err != nil {
		return 0, classify(err)
	}
	return total, nil
}

func (w *kafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for id, p := range w.producers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.producers, id)
	}
	return firstErr
}

// recordKey fills {index}, the record's position in the batch.
func recordKey(key string, i int) []byte {
	return []byte(strings.ReplaceAll(key, "{index}", strconv.Itoa(i)))
}
