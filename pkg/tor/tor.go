// pkg/tor/tor.go
package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/voidlane/Meshwire/pkg/discovery"
	"github.com/voidlane/Meshwire/pkg/network"
)

const (
	startupTimeout = 3 * time.Minute
	socksWait      = 30 * time.Second
)

// Transport runs the overlay over Tor: the listener is a v3 hidden service
// and outbound connections go through the embedded instance's SOCKS5 proxy.
// Outbound local-port binding has no meaning on a SOCKS circuit, so the
// localPort argument to Connect is ignored; a joining node over Tor must be
// given its listen port explicitly.
type Transport struct {
	instance  *tor.Tor
	dataDir   string
	socksPort int
	log       *logrus.Logger

	mu      sync.Mutex
	service *tor.OnionService
	onion   string
}

// Start launches an embedded Tor process with a dedicated data directory
// and waits until its SOCKS5 proxy answers.
func Start(logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	socksPort, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to pick a SOCKS port: %w", err)
	}

	dataDir, err := os.MkdirTemp("", "meshwire-tor-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create tor data directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	logger.Info("Starting embedded Tor")
	instance, err := tor.Start(ctx, &tor.StartConf{
		DataDir:   dataDir,
		ExtraArgs: []string{"--SocksPort", strconv.Itoa(socksPort)},
	})
	if err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("failed to start tor: %w", err)
	}

	if err := instance.EnableNetwork(ctx, true); err != nil {
		instance.Close()
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("failed to enable tor network: %w", err)
	}

	socksAddr := fmt.Sprintf("127.0.0.1:%d", socksPort)
	if err := waitForSocks(socksAddr, socksWait); err != nil {
		instance.Close()
		os.RemoveAll(dataDir)
		return nil, err
	}

	logger.WithField("socks", socksAddr).Info("Tor ready")
	return &Transport{
		instance:  instance,
		dataDir:   dataDir,
		socksPort: socksPort,
		log:       logger,
	}, nil
}

// Listen publishes a v3 hidden service forwarding the given port and starts
// accepting connections on it.
func (t *Transport) Listen(port int, accept discovery.AcceptFunc) error {
	service, err := t.instance.Listen(context.Background(), &tor.ListenConf{
		LocalPort:   port,
		RemotePorts: []int{port},
		Version3:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create hidden service: %w", err)
	}

	t.mu.Lock()
	t.service = service
	t.onion = service.ID + ".onion"
	t.mu.Unlock()

	t.log.WithField("onion", t.onion).Info("Hidden service published")

	go t.acceptLoop(service, accept)
	return nil
}

func (t *Transport) acceptLoop(service *tor.OnionService, accept discovery.AcceptFunc) {
	for {
		conn, err := service.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.WithError(err).Warn("Failed to accept onion connection")
			continue
		}

		sc := network.WrapConn(conn, t.log)
		go network.Pump(sc, accept(sc))
	}
}

func (t *Transport) Connect(address string, port, localPort int, h discovery.Handler) (discovery.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", t.socksPort), nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to build SOCKS5 dialer: %w", err)
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("connection via tor failed: %w", err)
	}

	sc := network.WrapConn(conn, t.log)
	go network.Pump(sc, h)
	return sc, nil
}

// OnionAddress is the published hidden-service address, empty until Listen.
func (t *Transport) OnionAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onion
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	service := t.service
	t.service = nil
	t.mu.Unlock()

	if service != nil {
		service.Close()
	}
	err := t.instance.Close()
	os.RemoveAll(t.dataDir)
	return err
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForSocks(address string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", address)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("SOCKS5 proxy did not come up on %s", address)
}
