package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voidlane/Meshwire/internal/store"
	"github.com/voidlane/Meshwire/pkg/dht"
	"github.com/voidlane/Meshwire/pkg/discovery"
	"github.com/voidlane/Meshwire/pkg/identity"
	"github.com/voidlane/Meshwire/pkg/network"
	"github.com/voidlane/Meshwire/pkg/tor"
	"github.com/voidlane/Meshwire/pkg/types"
)

var log = logrus.New()

func initLogger() {
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
}

type options struct {
	bootstrap   bool
	name        string
	address     string
	listenPort  int
	joinHost    string
	joinPort    int
	fanoutDelay time.Duration
	useTor      bool
}

func parseOptions(args []string) (*options, error) {
	fs := flag.NewFlagSet("meshwire", flag.ContinueOnError)
	port := fs.Int("port", 0, "listen port (default: random above 3000)")
	addr := fs.String("addr", "127.0.0.1", "address this node announces")
	name := fs.String("name", "", "display name for a bootstrap node")
	delay := fs.Duration("fanout-delay", discovery.DefaultFanoutDelay, "delay between presence fan-out attempts")
	useTor := fs.Bool("tor", false, "run over a Tor hidden service")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags]                    start a bootstrap node\n", fs.Name())
		fmt.Fprintf(fs.Output(), "       %s [flags] <name> <host:port> join an existing overlay\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{
		address:     *addr,
		listenPort:  *port,
		fanoutDelay: *delay,
		useTor:      *useTor,
	}
	if opts.listenPort == 0 {
		opts.listenPort = identity.RandomPort()
	} else if opts.listenPort < 1 || opts.listenPort > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.listenPort)
	}

	switch fs.NArg() {
	case 0:
		opts.bootstrap = true
		opts.name = *name
	case 2:
		opts.name = fs.Arg(0)
		host, portStr, err := net.SplitHostPort(fs.Arg(1))
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", fs.Arg(1), err)
		}
		joinPort, err := strconv.Atoi(portStr)
		if err != nil || joinPort < 1 || joinPort > 65535 {
			return nil, fmt.Errorf("invalid bootstrap port %q", portStr)
		}
		opts.joinHost = host
		opts.joinPort = joinPort
	default:
		return nil, errors.New("expected no arguments (bootstrap) or <name> <host:port> (join)")
	}

	return opts, nil
}

func run(opts *options) error {
	self := types.NewPeer(opts.name, opts.address, opts.listenPort)
	log.Infof("Node %s starting as %08x", self.String(), uint32(self.ID))

	table := dht.NewTable(self)
	journal := store.NewJournal(256)

	var transport discovery.Transport
	if opts.useTor {
		torTransport, err := tor.Start(log)
		if err != nil {
			return fmt.Errorf("failed to start tor transport: %w", err)
		}
		defer torTransport.Stop()
		transport = torTransport
	} else {
		transport = network.NewTransport(log)
	}

	proto := discovery.New(table, transport, discovery.Config{
		Name:        opts.name,
		FanoutDelay: opts.fanoutDelay,
		Journal:     journal,
		Logger:      log,
	})

	if opts.bootstrap {
		if err := proto.Listen(opts.listenPort); err != nil {
			return err
		}
		log.Infof("Bootstrap node ready on port %d", opts.listenPort)
	} else {
		log.Infof("Joining overlay via %s:%d", opts.joinHost, opts.joinPort)
		if err := proto.Join(opts.joinHost, opts.joinPort, opts.listenPort); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down")
	for _, record := range journal.Recent(20) {
		log.WithFields(logrus.Fields{
			"seq":       record.Seq,
			"direction": record.Direction,
			"type":      record.Type,
			"remote":    record.Remote,
			"outcome":   record.Outcome,
		}).Info("Announce record")
	}
	for _, entry := range table.Entries() {
		log.WithFields(logrus.Fields{
			"prefix": entry.Prefix,
			"peer":   entry.Peer.String(),
		}).Info("Routing table entry")
	}
	return nil
}

func main() {
	initLogger()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
