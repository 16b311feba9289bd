package main

import (
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// handleSignals sets stop on the first SIGINT or SIGTERM. A second signal
// gets the default behaviour and terminates the process.
func handleSignals(stop *atomic.Bool) {
	messages := map[os.Signal][]byte{
		unix.SIGINT:  []byte("\nGot signal interrupt, stopping ...\n"),
		unix.SIGTERM: []byte("\nGot signal terminated, stopping ...\n"),
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-ch
		stop.Store(true)
		unix.Write(2, messages[sig])
		signal.Reset(unix.SIGINT, unix.SIGTERM)
	}()
}
