package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	handlers   []func()
	handlersMu sync.Mutex
	notifyOnce sync.Once
)

// RegisterGracefulTerminationHandler queues fn to run when the process
// receives SIGINT or SIGTERM. Handlers run in registration order and must
// finish before the process exits. A second signal aborts the drain and
// exits immediately.
func RegisterGracefulTerminationHandler(fn func()) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers = append(handlers, fn)

	notifyOnce.Do(func() {
		c := make(chan os.Signal, 2)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go handleSignals(c)
	})
}

func handleSignals(c chan os.Signal) {
	<-c

	done := make(chan struct{})
	go func() {
		handlersMu.Lock()
		defer handlersMu.Unlock()
		for _, fn := range handlers {
			fn()
		}
		close(done)
	}()

	select {
	case <-done:
		os.Exit(0)
	case <-c:
		os.Exit(1)
	}
}
