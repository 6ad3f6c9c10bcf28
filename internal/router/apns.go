package router

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/crensch/pushgate/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

const RouterTypeAPNS = "apns"

const (
	apnsProductionHost = "https://api.push.apple.com"
	apnsSandboxHost    = "https://api.sandbox.push.apple.com"
)

// APNs rejects provider tokens older than an hour; re-mint before that.
const providerTokenLifetime = 55 * time.Minute

// APNSRouter delivers through the APNs HTTP/2 provider API using
// provider-token (ES256) authentication. The device token lives in
// router_data["token"].
type APNSRouter struct {
	Client *http.Client
	Host   string
	Topic  string
	KeyID  string
	TeamID string
	Logger *slog.Logger

	key *ecdsa.PrivateKey

	mu          sync.Mutex
	cachedToken string
	mintedAt    time.Time
	nowFn       func() time.Time
}

var _ Router = (*APNSRouter)(nil)

// NewAPNSRouter builds an APNs router from a PKCS#8/SEC1 PEM signing key
// (the .p8 file issued with the key id).
func NewAPNSRouter(keyPEM []byte, keyID, teamID, topic string, sandbox bool) (*APNSRouter, error) {
	key, err := parseSigningKey(keyPEM)
	if err != nil {
		return nil, err
	}
	if keyID == "" || teamID == "" {
		return nil, errors.New("apns: key id and team id are required")
	}

	host := apnsProductionHost
	if sandbox {
		host = apnsSandboxHost
	}
	return &APNSRouter{
		Client: &http.Client{
			Transport: &http2.Transport{},
			Timeout:   10 * time.Second,
		},
		Host:   host,
		Topic:  topic,
		KeyID:  keyID,
		TeamID: teamID,
		key:    key,
		nowFn:  time.Now,
	}, nil
}

func parseSigningKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("apns: signing key is not PEM")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("apns: signing key is not an EC key")
		}
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("apns: parse signing key: %w", err)
	}
	return key, nil
}

func (r *APNSRouter) Type() string { return RouterTypeAPNS }

// providerToken returns the cached bearer token, re-minting it when the
// hour window is close.
func (r *APNSRouter) providerToken() (string, error) {
	now := time.Now
	if r.nowFn != nil {
		now = r.nowFn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cachedToken != "" && now().Sub(r.mintedAt) < providerTokenLifetime {
		return r.cachedToken, nil
	}

	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": r.TeamID,
		"iat": now().Unix(),
	})
	t.Header["kid"] = r.KeyID
	signed, err := t.SignedString(r.key)
	if err != nil {
		return "", fmt.Errorf("apns: sign provider token: %w", err)
	}
	r.cachedToken = signed
	r.mintedAt = now()
	return signed, nil
}

type apnsErrorBody struct {
	Reason string `json:"reason"`
}

func (r *APNSRouter) Dispatch(ctx context.Context, sub store.Record, n Notification) Outcome {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deviceToken, _ := sub.RouterData["token"].(string)
	if deviceToken == "" {
		return Outcome{StatusCode: http.StatusGone, RouterData: map[string]any{}}
	}

	bearer, err := r.providerToken()
	if err != nil {
		logger.Error("apns_provider_token_failed", slog.Any("err", err))
		return Outcome{StatusCode: http.StatusBadGateway}
	}

	payload := map[string]any{
		"aps": map[string]any{
			"content-available": 1,
		},
		"chid": n.ChannelID.String(),
	}
	if len(n.Data) > 0 {
		payload["body"] = base64.URLEncoding.EncodeToString(n.Data)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway}
	}

	url := r.Host + "/3/device/" + deviceToken
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "bearer "+bearer)
	if r.Topic != "" {
		req.Header.Set("apns-topic", r.Topic)
	}
	if n.TTL > 0 {
		exp := n.Timestamp
		if exp.IsZero() {
			exp = time.Now()
		}
		req.Header.Set("apns-expiration", strconv.FormatInt(exp.Unix()+n.TTL, 10))
	}
	if n.Topic != "" {
		req.Header.Set("apns-collapse-id", n.Topic)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("apns_request_failed", slog.String("uaid", sub.UAID), slog.Any("err", err))
		return Outcome{StatusCode: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return Outcome{StatusCode: http.StatusCreated}
	}

	var apnsErr apnsErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&apnsErr)

	switch {
	case resp.StatusCode == http.StatusGone,
		apnsErr.Reason == "Unregistered",
		apnsErr.Reason == "BadDeviceToken",
		apnsErr.Reason == "DeviceTokenNotForTopic":
		// The device token is dead for this topic: drop the subscriber.
		return Outcome{StatusCode: http.StatusGone, RouterData: map[string]any{}}
	case resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{StatusCode: http.StatusServiceUnavailable}
	default:
		logger.Warn("apns_delivery_error",
			slog.String("uaid", sub.UAID),
			slog.Int("status", resp.StatusCode),
			slog.String("reason", apnsErr.Reason),
		)
		return Outcome{StatusCode: http.StatusBadGateway}
	}
}
