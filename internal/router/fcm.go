package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crensch/pushgate/internal/store"
)

const RouterTypeFCM = "fcm"

const defaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMRouter delivers through the FCM HTTP API. The device registration
// token lives in router_data["token"]; FCM may hand back a canonical
// replacement token, which is surfaced as refreshed router data so the
// subscriber is re-registered rather than dropped.
type FCMRouter struct {
	Client    *http.Client
	Endpoint  string
	ServerKey string
	DryRun    bool
	Logger    *slog.Logger
}

var _ Router = (*FCMRouter)(nil)

func (r *FCMRouter) Type() string { return RouterTypeFCM }

type fcmRequest struct {
	To         string            `json:"to"`
	TimeToLive int64             `json:"time_to_live"`
	CollapseID string            `json:"collapse_key,omitempty"`
	DryRun     bool              `json:"dry_run,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

type fcmResponse struct {
	Success      int `json:"success"`
	Failure      int `json:"failure"`
	CanonicalIDs int `json:"canonical_ids"`
	Results      []struct {
		MessageID      string `json:"message_id"`
		RegistrationID string `json:"registration_id"`
		Error          string `json:"error"`
	} `json:"results"`
}

func (r *FCMRouter) Dispatch(ctx context.Context, sub store.Record, n Notification) Outcome {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	regToken, _ := sub.RouterData["token"].(string)
	if regToken == "" {
		// No registration token at all: nothing to deliver to, ever.
		return Outcome{StatusCode: http.StatusGone, RouterData: map[string]any{}}
	}

	data := map[string]string{
		"chid": n.ChannelID.String(),
	}
	if len(n.Data) > 0 {
		data["body"] = base64.URLEncoding.EncodeToString(n.Data)
	}
	for k, v := range n.Headers {
		data[k] = v
	}

	body, err := json.Marshal(fcmRequest{
		To:         regToken,
		TimeToLive: n.TTL,
		CollapseID: n.Topic,
		DryRun:     r.DryRun,
		Data:       data,
	})
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway}
	}

	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+r.ServerKey)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("fcm_request_failed", slog.String("uaid", sub.UAID), slog.Any("err", err))
		return Outcome{StatusCode: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Outcome{StatusCode: http.StatusBadGateway}
	case resp.StatusCode == http.StatusUnauthorized:
		logger.Error("fcm_server_key_rejected")
		return Outcome{StatusCode: http.StatusBadGateway}
	case resp.StatusCode != http.StatusOK:
		return Outcome{StatusCode: http.StatusBadGateway}
	}

	var parsed fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Outcome{StatusCode: http.StatusBadGateway}
	}
	if len(parsed.Results) == 0 {
		return Outcome{StatusCode: http.StatusBadGateway}
	}

	result := parsed.Results[0]
	switch result.Error {
	case "":
	case "NotRegistered", "InvalidRegistration":
		// The device token is permanently dead; ask for a drop.
		return Outcome{StatusCode: http.StatusGone, RouterData: map[string]any{}}
	case "Unavailable", "InternalServerError":
		return Outcome{StatusCode: http.StatusBadGateway}
	default:
		logger.Warn("fcm_delivery_error",
			slog.String("uaid", sub.UAID),
			slog.String("error", result.Error),
		)
		return Outcome{StatusCode: http.StatusBadGateway}
	}

	if result.RegistrationID != "" && result.RegistrationID != regToken {
		// Canonical token rotation: hand the refreshed token back for
		// re-registration and signal the sender to retry.
		refreshed := sub.Clone().RouterData
		if refreshed == nil {
			refreshed = map[string]any{}
		}
		refreshed["token"] = result.RegistrationID
		return Outcome{StatusCode: http.StatusServiceUnavailable, RouterData: refreshed}
	}

	return Outcome{StatusCode: http.StatusCreated}
}
