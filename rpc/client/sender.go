package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMsg/lib/buffer"
	"github.com/ValentinKolb/dMsg/lib/lockmgr"
	"github.com/ValentinKolb/dMsg/lib/spool"
	"github.com/ValentinKolb/dMsg/lib/util"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures optional collaborators of a Sender
type Option func(*Sender)

// WithClock replaces the wall clock (used for lock expiration and the schedulers)
func WithClock(clk clock.Clock) Option {
	return func(s *Sender) { s.clock = clk }
}

// WithFs replaces the file system of the spool
func WithFs(fs afero.Fs) Option {
	return func(s *Sender) { s.fs = fs }
}

// WithNoRetryStrategy sets the strategy for permanently rejected messages (default DropStrategy)
func WithNoRetryStrategy(strategy INoRetryStrategy) Option {
	return func(s *Sender) { s.noRetry = strategy }
}

// WithClientID sets the client id instead of a random one
func WithClientID(id uint64) Option {
	return func(s *Sender) { s.clientID = id }
}

// --------------------------------------------------------------------------
// Sender
// --------------------------------------------------------------------------

// Sender buffers messages in memory and delivers them in the background.
// Messages still buffered when the sender is closed are written to the spool
// directory and delivered by a later disk sync (of this or another sender).
type Sender struct {
	config    common.ClientConfig
	clientID  uint64
	transport transport.IRPCClientTransport
	buffer    *buffer.Buffer
	spool     *spool.Spool
	noRetry   INoRetryStrategy
	clock     clock.Clock
	fs        afero.Fs

	lastStatus       *xsync.MapOf[uint8, common.DeliveryStatus]
	networkAvailable atomic.Bool

	// mu guards closed against concurrent Send calls during Close
	mu     sync.RWMutex
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	warnLimiter  *rate.Limiter
	errorLimiter *rate.Limiter

	registry    gometrics.Registry
	memoryTimer gometrics.Timer
	diskTimer   gometrics.Timer
	spooled     gometrics.Counter
	dropped     gometrics.Counter
}

// NewSender creates a new sender and connects the transport (connections are dialed lazily).
// The background synchronization starts with Start.
//
// Usage:
//
//	sender, err := client.NewSender(config, tcp.NewTCPClientTransport())
//	if err != nil {
//		panic(err)
//	}
//	sender.Start()
//	defer sender.Close()
//
//	_ = sender.Send(5, []byte("abc"))
func NewSender(config common.ClientConfig, transport transport.IRPCClientTransport, opts ...Option) (*Sender, error) {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}
	if config.Statuses == nil {
		config.Statuses = common.StatusTable{}
	}

	s := &Sender{
		config:       config,
		transport:    transport,
		buffer:       buffer.NewBuffer(),
		noRetry:      DropStrategy{},
		lastStatus:   xsync.NewMapOf[uint8, common.DeliveryStatus](),
		warnLimiter:  rate.NewLimiter(rate.Every(5*time.Second), 1),
		errorLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		registry:     gometrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clientID == 0 {
		s.clientID = util.GenerateClientID()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}

	locks := lockmgr.NewFileLockManager(s.fs, s.clock, config.StorageLockExpiration)
	s.spool = spool.New(s.fs, config.SpoolDir, locks)
	s.networkAvailable.Store(true)

	s.memoryTimer = gometrics.GetOrRegisterTimer("sync.memory", s.registry)
	s.diskTimer = gometrics.GetOrRegisterTimer("sync.disk", s.registry)
	s.spooled = gometrics.GetOrRegisterCounter("messages.spooled", s.registry)
	s.dropped = gometrics.GetOrRegisterCounter("messages.dropped", s.registry)
	gometrics.NewRegisteredFunctionalGauge("buffer.bytes", s.registry, s.buffer.Bytes)
	gometrics.NewRegisteredFunctionalGauge("buffer.messages", s.registry, func() int64 {
		return int64(s.buffer.Len())
	})

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, fmt.Errorf("failed to connect transport: %w", err)
	}

	Logger.Infof("Created sender %x", s.clientID)
	Logger.Infof("%s", config.String())
	return s, nil
}

// Start runs the memory and disk synchronization in the background until Close
func (s *Sender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.schedule(ctx, "memory", s.config.MemorySyncPeriod, func(ctx context.Context) { s.SyncMemory(ctx) })
	go s.schedule(ctx, "disk", s.config.DiskSyncPeriod, func(ctx context.Context) { s.SyncDisk(ctx) })
}

// Send buffers a message for delivery. It never blocks on network I/O.
// Sending content that is already buffered for the same type replaces the buffered message.
func (s *Sender) Send(messageType uint8, payload []byte) error {
	if !common.ValidMessageType(messageType) {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidMessageType, messageType, common.MaxMessageType)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSenderClosed
	}

	msg := common.NewMessage(s.clientID, messageType, payload)
	s.buffer.Put(msg)

	if s.overLimit() && s.warnLimiter.Allow() {
		Logger.Warningf("buffered messages use %s, more than the limit of %s",
			util.FormatBytes(s.buffer.Bytes()), util.FormatBytes(s.config.MessagesLimitBytes))
	}
	return nil
}

// SendObject serializes v and buffers it like Send
func (s *Sender) SendObject(messageType uint8, v any, ser serializer.IRPCSerializer) error {
	payload, err := ser.Serialize(v)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	return s.Send(messageType, payload)
}

// AvailabilityReport reports whether messages of the type are currently flowing.
// The sender is FAILED if the buffer exceeds its limit, the server is unreachable,
// the sender is closed or the last send attempt of the type ended with an error.
func (s *Sender) AvailabilityReport(messageType uint8) AvailabilityState {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed || s.overLimit() || !s.networkAvailable.Load() {
		return Failed
	}
	if status, ok := s.lastStatus.Load(messageType); ok {
		if status == common.DeliveryError || status == common.DeliveryErrorNoRetry {
			return Failed
		}
	}
	return Operational
}

// Close stops the background synchronization, closes the transport and writes
// every buffered message to the spool. A message that cannot be written is
// logged (with its payload) and dropped. The returned error aggregates those failures.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// stop the schedulers, in-flight sends complete first
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err := s.transport.Close(); err != nil {
		Logger.Warningf("failed to close transport: %v", err)
	}

	var errs error
	for !s.buffer.IsEmpty() {
		for _, msg := range s.buffer.Take(s.buffer.Len()) {
			if err := s.spool.Write(msg); err != nil {
				Logger.Errorf("failed to spool message type %d, md5 %s, data %s: %v",
					msg.Type, msg.Hash, msg.HexPayload(), err)
				s.dropped.Inc(1)
				errs = multierr.Append(errs, err)
			} else {
				s.spooled.Inc(1)
			}
			s.buffer.Remove(msg)
		}
	}

	Logger.Infof("Closed sender %x (%d messages spooled)", s.clientID, s.spooled.Count())
	return errs
}

// ClientID returns the id this sender stamps on its messages
func (s *Sender) ClientID() uint64 {
	return s.clientID
}

// MemorySize returns the estimated size of the buffered messages in bytes
func (s *Sender) MemorySize() int64 {
	return s.buffer.Bytes()
}

// Buffered returns the number of buffered messages
func (s *Sender) Buffered() int {
	return s.buffer.Len()
}

// Clear drops all buffered messages without delivering them
func (s *Sender) Clear() {
	s.buffer.Clear()
}

// Spool returns the disk spool of the sender
func (s *Sender) Spool() *spool.Spool {
	return s.spool
}

// Metrics returns the registry holding the sync timers and buffer gauges
func (s *Sender) Metrics() gometrics.Registry {
	return s.registry
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Sender) overLimit() bool {
	return s.config.MessagesLimitBytes > 0 && s.buffer.Bytes() > s.config.MessagesLimitBytes
}

// schedule runs fn with a fixed delay between the end of one run and the start of the next
func (s *Sender) schedule(ctx context.Context, name string, period time.Duration, fn func(ctx context.Context)) {
	defer s.wg.Done()
	if period <= 0 {
		Logger.Infof("%s sync disabled", name)
		return
	}

	for {
		timer := s.clock.Timer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		fn(ctx)
	}
}
