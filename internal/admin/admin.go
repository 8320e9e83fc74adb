// Package admin listens on a Redis pub/sub channel for out-of-band
// administrative commands (kill a session, close a specific stream),
// letting an operator reach into a running relay process without a direct
// connection to it.
package admin

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nova-stream/rtmprelay/internal/logging"
)

// Config carries the Redis connection settings.
type Config struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	Channel  string
	TLS      bool
}

// Callbacks lets admin commands act on the rest of the relay.
type Callbacks struct {
	// KillSession kills the active publisher on channel, if any.
	KillSession func(channel string)
	// CloseStream kills the active publisher on channel only if its
	// current stream id matches streamID.
	CloseStream func(channel, streamID string)
}

// Receiver subscribes to a Redis channel and dispatches parsed commands.
type Receiver struct {
	cfg Config
	log *logging.Logger
	cb  Callbacks
}

// New builds a Receiver. Run is a no-op if cfg.Enabled is false.
func New(cfg Config, log *logging.Logger, cb Callbacks) *Receiver {
	return &Receiver{cfg: cfg, log: log, cb: cb}
}

// Run subscribes and processes commands until ctx is canceled, reconnecting
// on error. It blocks; callers should run it in its own goroutine.
func (r *Receiver) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		return
	}

	opts := &redis.Options{
		Addr:     r.cfg.Host + ":" + r.cfg.Port,
		Password: r.cfg.Password,
	}
	if r.cfg.TLS {
		opts.TLSConfig = &tls.Config{}
	}

	client := redis.NewClient(opts)
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.listen(ctx, client)
		r.log.Warning("Connection to Redis lost!")
		time.Sleep(10 * time.Second)
	}
}

func (r *Receiver) listen(ctx context.Context, client *redis.Client) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Error(toError(err))
		}
	}()

	sub := client.Subscribe(ctx, r.cfg.Channel)
	defer sub.Close()

	r.log.Info("[REDIS] Listening for commands on channel '" + r.cfg.Channel + "'")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			r.log.Warning("Could not connect to Redis: " + err.Error())
			return
		}
		r.dispatch(msg.Payload)
	}
}

func (r *Receiver) dispatch(cmd string) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Error(toError(err))
			r.log.Warning("Could not parse message: " + cmd)
		}
	}()

	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		r.log.Warning("Invalid message from Redis: " + cmd)
		return
	}

	name := parts[0]
	args := strings.Split(parts[1], "|")

	switch name {
	case "kill-session":
		if len(args) < 1 {
			r.log.Warning("Invalid message from Redis: " + cmd)
			return
		}
		if r.cb.KillSession != nil {
			r.cb.KillSession(args[0])
		}
	case "close-stream":
		if len(args) < 2 {
			r.log.Warning("Invalid message from Redis: " + cmd)
			return
		}
		if r.cb.CloseStream != nil {
			r.cb.CloseStream(args[0], args[1])
		}
	default:
		r.log.Warning("Unknown Redis command: " + cmd)
	}
}

func toError(v interface{}) error {
	switch x := v.(type) {
	case string:
		return errors.New(x)
	case error:
		return x
	default:
		return errors.New("admin: recovered panic")
	}
}
