package nats

import (
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a NATS connection and returns the function releasing it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ReuseConnection shares one connection between every caller of the
// returned Connector. The connection is closed when the last lease is
// released and reopened on the next call.
func ReuseConnection(connect Connector) Connector {
	var (
		mu       sync.Mutex
		nc       *natsgo.Conn
		closeCon closeFunc
		leased   int
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		leased--
		if leased == 0 && nc != nil {
			closeCon()
			nc = nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			nc, closeCon, err = connect()
			if err != nil {
				return nil, nil, err
			}
		}
		leased++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

// ConnectURL connects to natsURL. The connection reports disconnects and
// reconnects to log.
func ConnectURL(natsURL string, log *slog.Logger, opts ...natsgo.Option) Connector {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("nats", natsURL))
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			append([]natsgo.Option{
				natsgo.MaxReconnects(3),
				natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
					if err != nil {
						log.Warn("disconnected", slog.Any("error", err))
					}
				}),
				natsgo.ReconnectHandler(func(*natsgo.Conn) { log.Info("reconnected") }),
			}, opts...)...,
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault connects to the local default server.
func ConnectDefault() Connector {
	return ConnectURL(natsgo.DefaultURL, nil)
}
