// Package callback notifies an external system of publish lifecycle
// events (stream started, stream stopped) via a JWT-signed HTTP POST,
// mirroring the header-only webhook convention the relay's control plane
// expects.
package callback

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nova-stream/rtmprelay/internal/logging"
)

const jwtExpirationSeconds = 120

// Client posts publish lifecycle events to a configured webhook URL.
type Client struct {
	url     string
	secret  []byte
	subject string

	httpClient *http.Client
	log        *logging.Logger
}

// New builds a Client. A blank url disables callbacks entirely; every
// method becomes a no-op success in that case.
func New(url, secret, subject string, log *logging.Logger) *Client {
	if subject == "" {
		subject = "rtmp_event"
	}
	return &Client{
		url:        url,
		secret:     []byte(secret),
		subject:    subject,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Enabled reports whether a callback URL was configured.
func (c *Client) Enabled() bool { return c.url != "" }

func (c *Client) sign(claims jwt.MapClaims) (string, error) {
	claims["sub"] = c.subject
	claims["exp"] = time.Now().Unix() + jwtExpirationSeconds

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

func (c *Client) post(sessionID uint64, ip, event, token string) (*http.Response, error) {
	c.log.DebugSession(sessionID, ip, fmt.Sprintf("POST %s | Event: %s", c.url, event))

	req, err := http.NewRequest(http.MethodPost, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("rtmp-event", token)

	return c.httpClient.Do(req)
}

// StartParams describes a publish-start event.
type StartParams struct {
	SessionID uint64
	IP        string
	Channel   string
	Key       string
	RTMPHost  string
	RTMPPort  int
}

// Start notifies the webhook that a stream began publishing, returning the
// stream id the webhook assigned (via the stream-id response header) and
// whether the call should be treated as a go-ahead to continue publishing.
func (c *Client) Start(p StartParams) (streamID string, ok bool) {
	if !c.Enabled() {
		return "", true
	}

	token, err := c.sign(jwt.MapClaims{
		"event":     "start",
		"channel":   p.Channel,
		"key":       p.Key,
		"client_ip": p.IP,
		"rtmp_host": p.RTMPHost,
		"rtmp_port": p.RTMPPort,
	})
	if err != nil {
		c.log.Error(err)
		return "", false
	}

	res, err := c.post(p.SessionID, p.IP, "START", token)
	if err != nil {
		c.log.Error(err)
		return "", false
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.DebugSession(p.SessionID, p.IP, "Callback request ended with status code: "+fmt.Sprint(res.StatusCode))
		return "", false
	}

	streamID = res.Header.Get("stream-id")
	c.log.DebugSession(p.SessionID, p.IP, "Stream ID: "+streamID)
	return streamID, true
}

// StopParams describes a publish-stop event.
type StopParams struct {
	SessionID uint64
	IP        string
	Channel   string
	Key       string
	StreamID  string
}

// Stop notifies the webhook that a stream finished publishing.
func (c *Client) Stop(p StopParams) bool {
	if !c.Enabled() {
		return true
	}

	token, err := c.sign(jwt.MapClaims{
		"event":     "stop",
		"channel":   p.Channel,
		"key":       p.Key,
		"stream_id": p.StreamID,
		"client_ip": p.IP,
	})
	if err != nil {
		c.log.Error(err)
		return false
	}

	res, err := c.post(p.SessionID, p.IP, "STOP", token)
	if err != nil {
		c.log.Error(err)
		return false
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.DebugSession(p.SessionID, p.IP, "Callback request ended with status code: "+fmt.Sprint(res.StatusCode))
		return false
	}

	return true
}
