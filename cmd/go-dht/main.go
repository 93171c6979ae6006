// go-dht runs a standalone node of the BitTorrent mainline DHT.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"

	"github.com/matei-oltean/go-dht/dht"
)

func usage() {
	fmt.Printf(`%s [options]

    -addr host:port   UDP bind address (default :6881)
    -boot host:port   Bootstrap node (default router.bittorrent.com:6881)
    -nodes path       Contact snapshot file, loaded at start and saved on
                      shutdown (default %s)
    -verbosity n      Log verbosity 0-5 (default 3)
`, os.Args[0], dht.DefaultNodesFile)
	os.Exit(2)
}

func main() {
	var bindAddr, bootAddr, nodesFile string
	var verbosity int
	flag.Usage = usage
	flag.StringVar(&bindAddr, "addr", ":6881", "")
	flag.StringVar(&bootAddr, "boot", "router.bittorrent.com:6881", "")
	flag.StringVar(&nodesFile, "nodes", dht.DefaultNodesFile, "")
	flag.IntVar(&verbosity, "verbosity", 3, "")
	flag.Parse()

	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), false)
	log.SetDefault(log.NewLogger(handler))

	d, err := dht.New(dht.DefaultConfig)
	if err != nil {
		log.Crit("creating DHT node", "err", err)
	}
	if err := d.Start(bindAddr); err != nil {
		log.Crit("starting DHT listener", "err", err)
	}

	if n, err := d.LoadNodes(nodesFile); err != nil {
		log.Warn("loading contact snapshot", "err", err)
	} else if n > 0 {
		log.Info("loaded contact snapshot", "nodes", n)
	}

	seed, err := net.ResolveUDPAddr("udp", bootAddr)
	if err != nil {
		log.Crit("resolving bootstrap node", "addr", bootAddr, "err", err)
	}
	if err := d.Bootstrap(seed); err != nil {
		d.Stop()
		log.Crit("bootstrap failed", "err", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := d.SaveNodes(nodesFile); err != nil {
		log.Warn("saving contact snapshot", "err", err)
	}
	d.Stop()
}
