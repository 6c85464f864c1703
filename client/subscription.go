package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/gpuflow/stream"
)

// Watch connects to the daemon's event feed and returns a channel of
// events for the given topics. With no topics it subscribes to the
// firehose. The channel is closed when the connection drops or ctx is
// cancelled.
//
// Topics follow the stream convention:
//   - "job:<jobID>"        — Events for a specific job
//   - "endpoint:<id>"      — All events for an endpoint
//   - "jobs"               — All job lifecycle events
//   - "firehose"           — Everything
func (c *Client) Watch(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			return nil, fmt.Errorf("gpuflow/client: watch: %w", err)
		}
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events"
	if len(topics) > 0 {
		wsURL += "?topics=" + url.QueryEscape(strings.Join(topics, ","))
	}

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("gpuflow/client: watch: dial %s: %w", wsURL, err)
	}

	events := make(chan *stream.Event, 64)

	// Close the connection on ctx cancellation so the read loop unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close() //nolint:errcheck // unblocks the read loop
	}()

	go func() {
		defer close(events)
		defer conn.Close() //nolint:errcheck // read loop owns the conn

		for {
			data, readErr := wsutil.ReadServerText(conn)
			if readErr != nil {
				return
			}
			var evt stream.Event
			if unmarshalErr := json.Unmarshal(data, &evt); unmarshalErr != nil {
				c.logger.Warn("gpuflow/client: malformed feed event",
					"error", unmarshalErr,
				)
				continue
			}
			select {
			case events <- &evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
