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

package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/cardinalhq/recordflow/internal/fly"
)

func probeKafka(ctx context.Context, _ *Tester, d Descriptor, r *Result) error {
	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	admin := fly.NewAdminClient(d.Kafka.FlyConfig(timeout))
	info, err := admin.ClusterInfo(ctx, d.Kafka.Topic)
	if err != nil {
		return err
	}

	r.Details["brokers"] = len(info.Brokers)
	r.Details["topics"] = info.TopicCount
	if info.Topic != nil {
		r.Details["topic"] = info.Topic.Name
		r.Details["topicExists"] = info.Topic.Exists
		if info.Topic.Exists {
			r.Details["partitions"] = info.Topic.Partitions
		} else {
			r.warn(fmt.Sprintf("topic %s does not exist yet", info.Topic.Name))
		}
	}

	r.Message = fmt.Sprintf("Connected to Kafka cluster with %d broker(s)", len(info.Brokers))
	return nil
}
