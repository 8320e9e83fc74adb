// Package coordinator talks to an external control-plane server over a
// persistent websocket, asking permission to accept a publish and
// forwarding remote kill commands back into the relay. Running without a
// configured coordinator is a supported, stand-alone mode.
package coordinator

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nova-stream/rtmprelay/internal/logging"
)

const (
	reconnectDelay   = 10 * time.Second
	heartbeatPeriod  = 20 * time.Second
	readIdleTimeout  = 60 * time.Second
	publishReqTimeout = 20 * time.Second
)

// PublishResult is the outcome of a publish authorization round trip.
type PublishResult struct {
	Accepted bool
	StreamID string
}

type pendingRequest struct {
	waiter chan PublishResult
}

// Callbacks lets the coordinator act on the rest of the relay without
// importing it directly.
type Callbacks struct {
	// KillAllPublishers is invoked right after a (re)connect, since a fresh
	// connection means the coordinator lost track of whatever was
	// publishing locally and will expect a clean slate.
	KillAllPublishers func()

	// KillStream is invoked on a STREAM-KILL command for a given channel;
	// streamID is "" or "*" to kill regardless of the active stream id.
	KillStream func(channel, streamID string)
}

// Coordinator manages the websocket connection to the control server.
type Coordinator struct {
	baseURL string
	secret  string

	externalIP   string
	externalPort string
	externalSSL  bool

	log *logging.Logger
	cb  Callbacks

	mu            sync.Mutex
	conn          *websocket.Conn
	nextRequestID uint64
	requests      map[string]*pendingRequest

	enabled bool
}

// Config carries the coordinator's connection settings.
type Config struct {
	BaseURL      string
	Secret       string
	ExternalIP   string
	ExternalPort string
	ExternalSSL  bool
}

// New builds a Coordinator. If cfg.BaseURL is empty the relay runs in
// stand-alone mode: RequestPublish always accepts locally and Start is a
// no-op.
func New(cfg Config, log *logging.Logger, cb Callbacks) *Coordinator {
	c := &Coordinator{
		secret:       cfg.Secret,
		externalIP:   cfg.ExternalIP,
		externalPort: cfg.ExternalPort,
		externalSSL:  cfg.ExternalSSL,
		log:          log,
		cb:           cb,
		requests:     make(map[string]*pendingRequest),
	}

	if cfg.BaseURL == "" {
		log.Warning("CONTROL_BASE_URL not provided. The server will run in stand-alone mode.")
		return c
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		log.Error(err)
		log.Warning("CONTROL_BASE_URL not provided. The server will run in stand-alone mode.")
		return c
	}
	path, _ := url.Parse("/ws/control/rtmp")

	c.baseURL = base.ResolveReference(path).String()
	c.enabled = true

	return c
}

// Enabled reports whether a coordinator connection was configured.
func (c *Coordinator) Enabled() bool { return c.enabled }

// Start launches the connection and heartbeat goroutines. No-op in
// stand-alone mode.
func (c *Coordinator) Start() {
	if !c.enabled {
		return
	}
	go c.connect()
	go c.heartbeatLoop()
}

func (c *Coordinator) authToken() string {
	if c.secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "rtmp-control"})
	s, err := token.SignedString([]byte(c.secret))
	if err != nil {
		c.log.Error(err)
		return ""
	}
	return s
}

func (c *Coordinator) connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}

	c.log.Info("[WS-CONTROL] Connecting to " + c.baseURL)

	headers := http.Header{}
	if tok := c.authToken(); tok != "" {
		headers.Set("x-control-auth-token", tok)
	}
	if c.externalIP != "" {
		headers.Set("x-external-ip", c.externalIP)
	}
	if c.externalPort != "" {
		headers.Set("x-custom-port", c.externalPort)
	}
	if c.externalSSL {
		headers.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.baseURL, headers)
	if err != nil {
		c.mu.Unlock()
		c.log.ErrorMessage("[WS-CONTROL] Connection error: " + err.Error())
		go c.reconnect()
		return
	}

	c.conn = conn
	c.mu.Unlock()

	if c.cb.KillAllPublishers != nil {
		c.cb.KillAllPublishers()
	}

	go c.readLoop(conn)
}

func (c *Coordinator) reconnect() {
	c.log.Info("[WS-CONTROL] Waiting 10 seconds to reconnect.")
	time.Sleep(reconnectDelay)
	c.connect()
}

func (c *Coordinator) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	c.log.Info("[WS-CONTROL] Disconnected: " + err.Error())
	go c.connect()
}

func (c *Coordinator) send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return false
	}

	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize()))

	if c.log.DebugEnabled() {
		c.log.Debug("[WS-CONTROL] >>>\n" + msg.Serialize())
	}

	return true
}

func (c *Coordinator) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextRequestID
	c.nextRequestID++
	return id
}

func (c *Coordinator) readLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readIdleTimeout)); err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}

		if c.log.DebugEnabled() {
			c.log.Debug("[WS-CONTROL] <<<\n" + string(raw))
		}

		msg := messages.ParseRPCMessage(string(raw))
		c.dispatch(&msg)
	}
}

func (c *Coordinator) dispatch(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		c.log.ErrorMessage("[WS-CONTROL] Remote error. Code=" + msg.GetParam("Error-Code") + " / Details: " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolveRequest(msg.GetParam("Request-Id"), PublishResult{Accepted: true, StreamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolveRequest(msg.GetParam("Request-Id"), PublishResult{Accepted: false})
	case "STREAM-KILL":
		if c.cb.KillStream != nil {
			c.cb.KillStream(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
		}
	}
}

func (c *Coordinator) resolveRequest(requestID string, res PublishResult) {
	c.mu.Lock()
	req := c.requests[requestID]
	c.mu.Unlock()

	if req == nil {
		return
	}
	req.waiter <- res
}

func (c *Coordinator) heartbeatLoop() {
	for {
		time.Sleep(heartbeatPeriod)
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether channel/key may publish from
// userIP, blocking until the coordinator answers or a 20 second timeout
// elapses. In stand-alone mode it always accepts.
func (c *Coordinator) RequestPublish(channel, key, userIP string) PublishResult {
	if !c.enabled {
		return PublishResult{Accepted: true}
	}

	requestID := fmt.Sprint(c.nextID())
	req := &pendingRequest{waiter: make(chan PublishResult, 1)}

	c.mu.Lock()
	c.requests[requestID] = req
	c.mu.Unlock()

	msg := messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestID,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	}

	if !c.send(msg) {
		c.mu.Lock()
		delete(c.requests, requestID)
		c.mu.Unlock()
		return PublishResult{}
	}

	timer := time.AfterFunc(publishReqTimeout, func() {
		req.waiter <- PublishResult{}
	})
	defer timer.Stop()

	res := <-req.waiter

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()

	return res
}

// PublishEnd notifies the coordinator that a stream finished publishing.
func (c *Coordinator) PublishEnd(channel, streamID string) bool {
	return c.send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamID,
		},
	})
}
