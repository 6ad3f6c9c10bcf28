package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/crensch/pushgate/internal/store"
)

// RouterTypeWebPush is the direct-connect backend: subscribers with a
// live connection to one of our nodes.
const RouterTypeWebPush = "webpush"

// WebPushRouter delivers to the node a subscriber is currently connected
// to, recorded as router_data["node_id"]. The node exposes an internal
// push listener; delivery is a POST to <node_id>/push/<uaid>.
type WebPushRouter struct {
	Client *http.Client
	Logger *slog.Logger
}

var _ Router = (*WebPushRouter)(nil)

func (r *WebPushRouter) Type() string { return RouterTypeWebPush }

type nodePushBody struct {
	ChannelID string            `json:"channel_id"`
	MessageID string            `json:"message_id,omitempty"`
	TTL       int64             `json:"ttl"`
	Topic     string            `json:"topic,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Data      string            `json:"data,omitempty"`
}

func (r *WebPushRouter) Dispatch(ctx context.Context, sub store.Record, n Notification) Outcome {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nodeID, _ := sub.RouterData["node_id"].(string)
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		// Not currently connected anywhere. Keep the subscriber; the
		// sender should retry once the client reconnects.
		return Outcome{StatusCode: http.StatusServiceUnavailable}
	}

	body, err := json.Marshal(nodePushBody{
		ChannelID: n.ChannelID.String(),
		MessageID: n.MessageID,
		TTL:       n.TTL,
		Topic:     n.Topic,
		Headers:   n.Headers,
		Data:      base64.URLEncoding.EncodeToString(n.Data),
	})
	if err != nil {
		return Outcome{StatusCode: http.StatusServiceUnavailable}
	}

	url := strings.TrimSuffix(nodeID, "/") + "/push/" + sub.UAID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{StatusCode: http.StatusServiceUnavailable}
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Debug("webpush_node_unreachable",
			slog.String("uaid", sub.UAID),
			slog.String("node_id", nodeID),
			slog.Any("err", err),
		)
		return Outcome{StatusCode: http.StatusServiceUnavailable, RouterData: clearNodeBinding(sub)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{StatusCode: http.StatusCreated}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The node no longer holds this client. Clear the stale binding
		// so the next attempt does not hit the same node.
		return Outcome{StatusCode: http.StatusServiceUnavailable, RouterData: clearNodeBinding(sub)}
	default:
		return Outcome{StatusCode: http.StatusServiceUnavailable, RouterData: clearNodeBinding(sub)}
	}
}

// clearNodeBinding returns the subscriber's router data with the node
// binding blanked, for re-registration. The key is kept with an empty
// value rather than deleted so the map stays non-empty: an empty map
// would read as a drop request.
func clearNodeBinding(sub store.Record) map[string]any {
	out := sub.Clone().RouterData
	if out == nil {
		out = map[string]any{}
	}
	out["node_id"] = ""
	return out
}
