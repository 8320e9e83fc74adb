// Command rtmprelay runs the RTMP relay server: it accepts publisher and
// subscriber connections, fans out live audio/video between them through
// the broker/hub, and talks to whichever of the optional external
// collaborators (webhook callback, coordinator, Redis admin channel) are
// configured.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nova-stream/rtmprelay/internal/access"
	"github.com/nova-stream/rtmprelay/internal/admin"
	"github.com/nova-stream/rtmprelay/internal/broker"
	"github.com/nova-stream/rtmprelay/internal/callback"
	"github.com/nova-stream/rtmprelay/internal/config"
	"github.com/nova-stream/rtmprelay/internal/conn"
	"github.com/nova-stream/rtmprelay/internal/connset"
	"github.com/nova-stream/rtmprelay/internal/coordinator"
	"github.com/nova-stream/rtmprelay/internal/logging"
	"github.com/nova-stream/rtmprelay/internal/registry"
	"github.com/nova-stream/rtmprelay/internal/rtmpssl"
	"github.com/nova-stream/rtmprelay/internal/stats"
)

// pingInterval mirrors the teacher's RTMP_PING_TIME keepalive cadence.
const pingInterval = 60 * time.Second

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogRequests, cfg.LogDebug)

	log.Info("RTMP relay starting")

	reg := registry.New()
	conns := connset.New()

	playWhitelist := access.NewPlayWhitelist(splitCSV(cfg.PlayWhitelist))
	limiter := access.NewLimiter(int(cfg.MaxIPConcurrentConnections), splitCSV(cfg.ConcurrentLimitWhitelist))

	cb := callback.New(cfg.CallbackURL, cfg.JWTSecret, cfg.CustomJWTSubject, log)

	coord := coordinator.New(coordinator.Config{
		BaseURL:      cfg.ControlBaseURL,
		Secret:       cfg.ControlSecret,
		ExternalIP:   cfg.ExternalIP,
		ExternalPort: cfg.ExternalPort,
		ExternalSSL:  cfg.ExternalSSL,
	}, log, coordinator.Callbacks{
		KillAllPublishers: reg.KillAll,
		KillStream:        reg.KillIfStream,
	})
	coord.Start()

	adminReceiver := admin.New(admin.Config{
		Enabled:  cfg.RedisUse,
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		Channel:  cfg.RedisChannel,
		TLS:      cfg.RedisTLS,
	}, log, admin.Callbacks{
		KillSession: reg.Kill,
		CloseStream: reg.KillIfStream,
	})
	go adminReceiver.Run(context.Background())

	sink := loggingSink(log)

	var nextSessionID uint64

	puller := &conn.Puller{
		BaseURL: cfg.OriginPullBaseURL,
		Stats:   sink,
		Log:     log,
	}
	b := broker.New(puller.Pull)
	puller.Broker = b
	go b.Run()

	deps := conn.Deps{
		Broker:        b,
		Callback:      cb,
		Coordinator:   coord,
		Registry:      reg,
		Conns:         conns,
		PlayWhitelist: playWhitelist,
		Stats:         sink,
		Log:           log,

		StreamIDMaxLength: cfg.StreamIDMaxLength,
		RTMPHost:          cfg.ExternalIP,
		RTMPPort:          cfg.RTMPPort,
	}

	accept := func(ln net.Listener) {
		defer ln.Close()
		for {
			c, err := ln.Accept()
			if err != nil {
				log.Error(err)
				return
			}

			host, _, _ := net.SplitHostPort(c.RemoteAddr().String())
			ip := net.ParseIP(host)

			if ip != nil && !limiter.Acquire(ip) {
				c.Close()
				log.Request(0, host, "Connection rejected: too many concurrent connections")
				continue
			}

			sessionID := atomic.AddUint64(&nextSessionID, 1)
			log.DebugSession(sessionID, host, "connection accepted")

			go func() {
				defer func() {
					if ip != nil {
						limiter.Release(ip)
					}
				}()
				cn := conn.New(sessionID, c, deps)
				if err := cn.Serve(); err != nil {
					log.DebugSession(sessionID, host, "connection ended: "+err.Error())
				}
			}()
		}
	}

	bindAddr := cfg.BindAddress

	plainLn, err := net.Listen("tcp", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.RTMPPort)))
	if err != nil {
		log.Error(fmt.Errorf("listen rtmp: %w", err))
		return
	}
	log.Info("Listening on " + plainLn.Addr().String())
	go accept(plainLn)

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		loader, err := rtmpssl.New(cfg.SSLCert, cfg.SSLKey, log)
		if err != nil {
			log.Error(fmt.Errorf("load SSL certificates: %w", err))
		} else {
			tlsCfg := &tls.Config{GetCertificate: loader.GetCertificateFunc()}
			sslLn, err := tls.Listen("tcp", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.SSLPort)), tlsCfg)
			if err != nil {
				log.Error(fmt.Errorf("listen rtmps: %w", err))
			} else {
				log.Info("[SSL] Listening on " + sslLn.Addr().String())
				go accept(sslLn)
			}
		}
	}

	for {
		time.Sleep(pingInterval)
		conns.PingAll()
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// loggingSink builds a stats.Sink that just logs lifecycle/bitrate events
// at debug level; the schema itself is out of scope (§6).
func loggingSink(log *logging.Logger) stats.Sink {
	return stats.Sink{
		OnCreate: func(connID, streamKey, connType string) {
			if !log.DebugEnabled() {
				return
			}
			log.Debug("stats: create " + connID + " " + streamKey + " " + connType)
		},
		OnUpdate: func(connID string, recvBytes, sendBytes, audioCount, videoCount uint64) {
			if !log.DebugEnabled() {
				return
			}
			log.Debug("stats: update " + connID +
				" recv=" + strconv.FormatUint(recvBytes, 10) +
				" send=" + strconv.FormatUint(sendBytes, 10) +
				" audio=" + strconv.FormatUint(audioCount, 10) +
				" video=" + strconv.FormatUint(videoCount, 10))
		},
		OnDelete: func(connID string) {
			if !log.DebugEnabled() {
				return
			}
			log.Debug("stats: delete " + connID)
		},
	}
}
