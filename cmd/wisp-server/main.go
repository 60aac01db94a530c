// SPDX-License-Identifier: GPL-3.0-or-later

// Command wisp-server runs a Wisp server terminating TCP and UDP
// streams carried over WebSocket connections.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/wisp"
)

var (
	// args contains the command line arguments (overridable in tests).
	args = os.Args

	// fatalf is the fatal logger (overridable in tests).
	fatalf = log.Fatalf
)

func main() {
	// 1. create command line parser
	fset := flag.NewFlagSet("wisp-server", flag.ExitOnError)

	// 2. add flags to parse
	var (
		bufferSize  = fset.Uint("buffer-size", wisp.DefaultBufferSize, "Advertised CONTINUE credit.")
		host        = fset.String("host", "127.0.0.1", "Select listen IP address.")
		pcapFile    = fset.String("pcap-file", "", "Write a frame trace PCAP at the given file.")
		pcapSnaplen = fset.Int("pcap-snaplen", 1500, "PCAP snapshot length in bytes.")
		port        = fset.String("port", "6001", "Select listen port.")
	)

	// 3. parse command line
	runtimex.PanicOnError0(fset.Parse(args[1:]))

	// 4. arrange for SIGINT/SIGTERM to stop the server cleanly
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 5. optionally create the frame trace
	options := []wisp.ServerOption{
		wisp.ServerOptionBufferSize(uint32(*bufferSize)),
	}
	if *pcapFile != "" {
		filep := runtimex.PanicOnError1(os.Create(*pcapFile))
		trace := wisp.NewFrameTrace(filep, uint16(*pcapSnaplen))
		defer func() {
			runtimex.PanicOnError0(trace.Close())
		}()
		options = append(options, wisp.ServerOptionTrace(trace))
	}

	// 6. create the server
	srv := wisp.NewServer(options...)

	// 7. serve until interrupted; a bind failure is fatal
	address := net.JoinHostPort(*host, *port)
	log.Printf("wisp: listening on %s", address)
	if err := srv.ListenAndServe(ctx, address); err != nil {
		fatalf("wisp: serve failed: %s", err.Error())
	}
}
