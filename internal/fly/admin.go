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

package fly

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ClusterInfo summarizes a metadata response
type ClusterInfo struct {
	Brokers      []string
	ControllerID int
	TopicCount   int

	// Topic is filled in only when a topic was asked about
	Topic *TopicInfo
}

// TopicInfo contains information about a Kafka topic
type TopicInfo struct {
	Name       string
	Exists     bool
	Partitions int
}

// AdminClient provides Kafka administrative operations
type AdminClient struct {
	factory *Factory
}

// NewAdminClient creates a new Kafka admin client
func NewAdminClient(config *Config) *AdminClient {
	return &AdminClient{factory: NewFactory(config)}
}

// ClusterInfo fetches broker metadata. When topic is not empty the result
// also says whether that topic exists.
func (a *AdminClient) ClusterInfo(ctx context.Context, topic string) (*ClusterInfo, error) {
	client, err := a.factory.CreateKafkaClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	resp, err := client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to get Kafka metadata: %w", err)
	}

	info := &ClusterInfo{
		Brokers:      make([]string, 0, len(resp.Brokers)),
		ControllerID: resp.Controller.ID,
	}
	for _, b := range resp.Brokers {
		info.Brokers = append(info.Brokers, fmt.Sprintf("%s:%d", b.Host, b.Port))
	}
	for _, t := range resp.Topics {
		if !t.Internal {
			info.TopicCount++
		}
	}

	if topic == "" {
		return info, nil
	}

	info.Topic = &TopicInfo{Name: topic}
	for _, t := range resp.Topics {
		if t.Name == topic && t.Error == nil {
			info.Topic.Exists = true
			info.Topic.Partitions = len(t.Partitions)
			break
		}
	}
	return info, nil
}
