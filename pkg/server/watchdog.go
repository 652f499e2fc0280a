// Package server maintains the long-lived session to the upstream server.
//
// The watchdog owns reconnection: a single loop attempts to connect with
// exponential backoff while a periodic timer re-enters the loop as a
// backstop. VPN readiness can gate attempts, and credential changes restart
// the loop through Restart.
package server

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/metrics"
	"github.com/peerdaemon/peerd/pkg/peer"
)

const (
	// DefaultBackstopInterval is how often the timer re-enters the
	// reconnect loop when it has exited without connecting.
	DefaultBackstopInterval = 30 * time.Second

	// maxBackoff caps the exponential reconnect delay.
	maxBackoff = 300 * time.Second

	// baseBackoff is the delay before the second attempt.
	baseBackoff = time.Second
)

// Credentials identify the session to establish.
type Credentials struct {
	Address  string
	Port     int
	Username string
	Password string
}

// CredentialsFunc returns the current credentials. The watchdog calls it
// before every attempt so configuration changes take effect without a
// process restart.
type CredentialsFunc func() Credentials

// State is a snapshot of the watchdog for the API layer.
type State struct {
	Enabled       bool       `json:"enabled"`
	Connected     bool       `json:"connected"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	AwaitingVPN   bool       `json:"awaitingVpn"`
}

// Watchdog keeps the peer client connected.
type Watchdog struct {
	client   peer.Client
	creds    CredentialsFunc
	vpnReady func() bool // nil when VPN integration is disabled
	metrics  metrics.ServerMetrics

	backstop time.Duration

	// attemptMu is the advisory mutex: at most one reconnect loop runs.
	attemptMu sync.Mutex

	mu            sync.Mutex
	enabled       bool
	done          chan struct{}
	attemptCancel context.CancelFunc
	attempts      int
	nextAttemptAt *time.Time
	awaitingVPN   bool

	// sleep is swapped in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithVPNGate makes the watchdog defer attempts until ready returns true.
func WithVPNGate(ready func() bool) Option {
	return func(w *Watchdog) { w.vpnReady = ready }
}

// WithBackstopInterval overrides the backstop timer period.
func WithBackstopInterval(d time.Duration) Option {
	return func(w *Watchdog) { w.backstop = d }
}

// WithMetrics records connect attempts and the connected gauge.
func WithMetrics(m metrics.ServerMetrics) Option {
	return func(w *Watchdog) { w.metrics = m }
}

// NewWatchdog creates a watchdog in the Stopped state.
func NewWatchdog(client peer.Client, creds CredentialsFunc, opts ...Option) *Watchdog {
	w := &Watchdog{
		client:   client,
		creds:    creds,
		backstop: DefaultBackstopInterval,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start enables the watchdog, kicks an immediate attempt, and arms the
// backstop timer. Starting a running watchdog is a no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = true
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	logger.Info("connection watchdog started")
	go w.tryConnect()
	go w.backstopLoop(done)
}

// Stop disables the watchdog. The backstop timer is disabled first; when
// abort is set, the in-flight attempt's cancellation signal is tripped.
func (w *Watchdog) Stop(abort bool) {
	w.mu.Lock()
	if !w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = false
	close(w.done)
	cancel := w.attemptCancel
	w.mu.Unlock()

	if abort && cancel != nil {
		cancel()
	}
	logger.Info("connection watchdog stopped", "abort", abort)
}

// Restart aborts the current attempt and starts over. Invoked when a
// connection-relevant option changes.
func (w *Watchdog) Restart() {
	w.Stop(true)
	w.Start()
}

// State returns a snapshot of the watchdog.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	var next *time.Time
	if w.nextAttemptAt != nil {
		t := *w.nextAttemptAt
		next = &t
	}
	return State{
		Enabled:       w.enabled,
		Connected:     w.client.IsConnected(),
		Attempts:      w.attempts,
		NextAttemptAt: next,
		AwaitingVPN:   w.awaitingVPN,
	}
}

func (w *Watchdog) backstopLoop(done chan struct{}) {
	ticker := time.NewTicker(w.backstop)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			go w.tryConnect()
		case <-done:
			return
		}
	}
}

// tryConnect is the reconnect loop. At most one invocation runs at a time;
// contending invocations exit immediately.
func (w *Watchdog) tryConnect() {
	if !w.attemptMu.TryLock() {
		return
	}
	defer w.attemptMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.mu.Lock()
	w.attemptCancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.attemptCancel = nil
		w.mu.Unlock()
	}()

	for {
		w.mu.Lock()
		enabled := w.enabled
		attempts := w.attempts
		w.mu.Unlock()
		if !enabled || w.client.IsConnected() {
			return
		}

		// VPN gate: the next backstop tick retries.
		if w.vpnReady != nil && !w.vpnReady() {
			w.mu.Lock()
			w.awaitingVPN = true
			w.mu.Unlock()
			logger.Info("waiting for VPN readiness before connecting")
			return
		}
		w.mu.Lock()
		w.awaitingVPN = false
		w.mu.Unlock()

		if attempts > 0 {
			delay := backoffDelay(attempts)
			next := time.Now().Add(delay)
			w.mu.Lock()
			w.nextAttemptAt = &next
			w.mu.Unlock()
			logger.Info("waiting before reconnect attempt",
				logger.KeyAttempt, attempts, logger.KeyDelay, delay.String())
			if err := w.sleep(ctx, delay); err != nil {
				return
			}
		}
		w.mu.Lock()
		w.nextAttemptAt = nil
		w.mu.Unlock()

		// Credentials are re-read on every attempt.
		creds := w.creds()
		err := w.client.Connect(ctx, creds.Address, creds.Port, creds.Username, creds.Password)
		if err == nil {
			w.mu.Lock()
			w.attempts = 0
			w.nextAttemptAt = nil
			w.mu.Unlock()
			if w.metrics != nil {
				w.metrics.RecordConnectAttempt("success")
				w.metrics.SetConnected(true)
			}
			logger.Info("connected to server",
				logger.KeyAddress, creds.Address, logger.Username(creds.Username))
			return
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			if w.metrics != nil {
				w.metrics.RecordConnectAttempt("cancelled")
			}
			return
		}

		w.mu.Lock()
		w.attempts++
		w.mu.Unlock()
		if w.metrics != nil {
			w.metrics.RecordConnectAttempt("failure")
		}
		logger.Warn("connect attempt failed",
			logger.KeyAttempt, attempts+1, logger.Err(err))
	}
}

// backoffDelay computes the exponential delay before the given attempt,
// capped at maxBackoff, with jitter in [1, base/2]. Doubling the base while
// jittering by at most half of it keeps successive delays non-decreasing,
// and the jitter is never zero so two daemons never sync their retries.
func backoffDelay(attempt int) time.Duration {
	base := baseBackoff
	for i := 1; i < attempt && base < maxBackoff; i++ {
		base *= 2
	}
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := time.Duration(1 + rand.Int63n(int64(base/2)))
	delay := base + jitter
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
