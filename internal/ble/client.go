package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/stepper-ble/internal/ble/protocol"
)

// State is the connection state of a Client.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	MaxAttempts      int           // connect+service lookup attempts on link drop (default 3)
	RetryBackoff     time.Duration // fixed delay between attempts (default 150ms)
	ScanTimeout      time.Duration // discovery window before the chooser runs (default 5s)
	MicrostepsPerRev int           // for revolution display (default 1600)
	PositionBuffer   int           // position stream capacity (default 16)

	// OnState, if set, is called on every state transition. It must not
	// call back into the Client.
	OnState func(State)
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MaxAttempts:      3,
		RetryBackoff:     150 * time.Millisecond,
		ScanTimeout:      5 * time.Second,
		MicrostepsPerRev: protocol.DefaultMicrostepsPerRev,
		PositionBuffer:   16,
	}
}

// Session is one pairing with a peripheral. Its characteristic handles are
// cleared when the link drops; after that the Session is inert and a new
// Connect replaces it.
type Session struct {
	device Device

	mu        sync.Mutex
	conn      Connection
	cmdChar   Characteristic
	posChar   Characteristic
	positions chan protocol.Position
	closed    bool
	ready     bool // setup finished
	dropped   bool // link lost before setup finished
	last      protocol.Position
	hasLast   bool
}

func newSession(device Device, buffer int) *Session {
	return &Session{
		device:    device,
		positions: make(chan protocol.Position, buffer),
	}
}

// Device returns the peripheral this session was opened for.
func (s *Session) Device() Device { return s.device }

// Positions streams decoded position samples for the lifetime of the
// session. The channel is closed when the session tears down. When the
// reader falls behind, the oldest buffered sample is dropped.
func (s *Session) Positions() <-chan protocol.Position { return s.positions }

// LastPosition returns the most recent sample, if any.
func (s *Session) LastPosition() (protocol.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Session) publish(p protocol.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last, s.hasLast = p, true
	select {
	case s.positions <- p:
		return
	default:
	}
	select {
	case <-s.positions:
	default:
	}
	select {
	case s.positions <- p:
	default:
	}
}

// markDropped records a link loss while setup is still running and clears
// the handles. It reports false once setup has finished.
func (s *Session) markDropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return false
	}
	s.dropped = true
	s.cmdChar = nil
	s.posChar = nil
	return true
}

// teardown clears both handles and closes the position stream. The
// connection is kept so a caller can still disconnect it. Idempotent.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdChar = nil
	s.posChar = nil
	if !s.closed {
		s.closed = true
		close(s.positions)
	}
}

func (s *Session) connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Client owns the single active Session with a stepper controller.
type Client struct {
	adapter Adapter
	chooser Chooser
	profile Profile
	opts    ClientOptions

	state atomic.Int32

	mu      sync.Mutex
	session *Session

	// sleep waits between connect attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for peripherals matching profile.
func NewClient(adapter Adapter, chooser Chooser, profile Profile, opts ClientOptions) (*Client, error) {
	if adapter == nil {
		return nil, errors.New("ble: adapter is required")
	}
	if chooser == nil {
		return nil, errors.New("ble: chooser is required")
	}
	if profile.ServiceUUID == "" || profile.CommandCharUUID == "" {
		return nil, errors.New("ble: profile needs a service and a command characteristic UUID")
	}
	defaults := DefaultClientOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = defaults.RetryBackoff
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = defaults.ScanTimeout
	}
	if opts.MicrostepsPerRev <= 0 {
		opts.MicrostepsPerRev = defaults.MicrostepsPerRev
	}
	if opts.PositionBuffer <= 0 {
		opts.PositionBuffer = defaults.PositionBuffer
	}
	return &Client{
		adapter: adapter,
		chooser: chooser,
		profile: profile,
		opts:    opts,
		sleep:   sleepCtx,
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Session returns the current session, or nil before the first Connect.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connected reports whether a command can be written right now.
func (c *Client) Connected() bool {
	return c.commandChar() != nil
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	slog.Debug("[BLE] state", "state", s)
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// beginConnect moves to Connecting unless a connect is already running.
func (c *Client) beginConnect() error {
	for {
		cur := c.state.Load()
		if State(cur) == StateConnecting {
			return ErrConnectInProgress
		}
		if c.state.CompareAndSwap(cur, int32(StateConnecting)) {
			if c.opts.OnState != nil {
				c.opts.OnState(StateConnecting)
			}
			return nil
		}
	}
}

// restoreState leaves Connecting for whatever the current session supports.
func (c *Client) restoreState() {
	if c.Connected() {
		c.setState(StateConnected)
		return
	}
	c.setState(StateIdle)
}

// Connect discovers a peripheral, lets the chooser pick one, and opens a new
// Session to it. ErrNoDeviceSelected is returned, with the existing Session
// untouched, when the user cancels. A Connect issued while another is still
// running fails with ErrConnectInProgress.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}

	if err := c.adapter.Enable(); err != nil {
		c.restoreState()
		return fmt.Errorf("%w: enable adapter: %w", ErrConnectFailed, err)
	}

	slog.Info("[BLE] scanning", "name_prefix", c.profile.NamePrefix, "service", c.profile.ServiceUUID)
	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	devices, err := scan(scanCtx, c.adapter, c.profile.Filter())
	cancel()
	if err != nil {
		c.restoreState()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	device, err := c.chooser.Choose(ctx, devices)
	if err != nil {
		c.restoreState()
		if errors.Is(err, ErrNoDeviceSelected) {
			slog.Info("[BLE] no device selected")
			return ErrNoDeviceSelected
		}
		return fmt.Errorf("%w: choose device: %w", ErrConnectFailed, err)
	}
	slog.Info("[BLE] device selected", "name", device.Name, "address", device.Address)

	c.mu.Lock()
	prev := c.session
	s := newSession(device, c.opts.PositionBuffer)
	c.session = s
	c.mu.Unlock()

	if prev != nil {
		prev.teardown()
		if conn := prev.connection(); conn != nil && conn.Connected() {
			if err := conn.Disconnect(); err != nil {
				slog.Debug("[BLE] disconnect of previous session failed", "error", err)
			}
		}
	}

	c.adapter.OnDisconnect(device.Address, func() { c.handleDisconnect(s) })

	svc, err := c.establishGatt(ctx, s)
	if err != nil {
		c.abandon(s)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := c.acquireCharacteristics(s, svc); err != nil {
		c.abandon(s)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	// Readiness and the Connected transition happen under the session lock
	// so a disconnect lands either before (and fails setup) or after (and
	// moves back to Idle).
	s.mu.Lock()
	ok := !s.closed && !s.dropped && s.cmdChar != nil &&
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))
	s.ready = ok
	s.mu.Unlock()
	if !ok {
		c.abandon(s)
		return fmt.Errorf("%w: %w: link lost during setup", ErrConnectFailed, ErrTransientLink)
	}

	slog.Debug("[BLE] state", "state", StateConnected)
	if c.opts.OnState != nil {
		c.opts.OnState(StateConnected)
	}
	slog.Info("[BLE] connected", "name", device.Name, "address", device.Address)
	return nil
}

// establishGatt connects the session transport, reusing it when it is still
// up, and looks up the service. A link drop during lookup is retried after
// a fixed backoff until MaxAttempts is reached; any other error is returned
// immediately.
func (c *Client) establishGatt(ctx context.Context, s *Session) (Service, error) {
	for attempt := 1; ; attempt++ {
		conn, err := c.ensureTransport(ctx, s)
		if err != nil {
			return nil, err
		}

		svc, err := conn.DiscoverService(c.profile.ServiceUUID)
		if err == nil {
			return svc, nil
		}
		if !IsTransient(err) || attempt >= c.opts.MaxAttempts {
			return nil, fmt.Errorf("ble: discover service %s (attempt %d/%d): %w",
				c.profile.ServiceUUID, attempt, c.opts.MaxAttempts, err)
		}

		slog.Warn("[BLE] link dropped during service discovery, retrying",
			"attempt", attempt, "max", c.opts.MaxAttempts, "backoff", c.opts.RetryBackoff, "error", err)
		if err := c.sleep(ctx, c.opts.RetryBackoff); err != nil {
			return nil, fmt.Errorf("ble: retry wait: %w", err)
		}
	}
}

// ensureTransport returns the session's live connection, opening one if needed.
func (c *Client) ensureTransport(ctx context.Context, s *Session) (Connection, error) {
	if conn := s.connection(); conn != nil && conn.Connected() {
		return conn, nil
	}
	conn, err := c.adapter.Connect(ctx, s.device.Address)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", s.device.Address, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.dropped = false
	s.mu.Unlock()
	return conn, nil
}

// acquireCharacteristics fetches the command characteristic and, if the
// peripheral has one, subscribes to the position characteristic and seeds
// the stream with one read.
func (c *Client) acquireCharacteristics(s *Session, svc Service) error {
	cmd, err := svc.DiscoverCharacteristic(c.profile.CommandCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover command characteristic: %w", err)
	}

	var pos Characteristic
	if c.profile.PositionCharUUID != "" {
		pos, err = svc.DiscoverCharacteristic(c.profile.PositionCharUUID)
		if err != nil {
			slog.Warn("[BLE] position characteristic unavailable, live position disabled", "error", err)
			pos = nil
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("ble: session closed during setup")
	}
	if s.dropped {
		s.mu.Unlock()
		return fmt.Errorf("%w: during characteristic discovery", ErrTransientLink)
	}
	s.cmdChar = cmd
	s.posChar = pos
	s.mu.Unlock()

	if pos == nil {
		return nil
	}

	if err := pos.Subscribe(func(data []byte) { c.handleNotification(s, data) }); err != nil {
		slog.Warn("[BLE] position subscribe failed, live position disabled", "error", err)
		s.mu.Lock()
		s.posChar = nil
		s.mu.Unlock()
		return nil
	}

	data, err := pos.Read()
	if err != nil {
		slog.Warn("[BLE] initial position read failed", "error", fmt.Errorf("%w: %w", ErrReadFailed, err))
		return nil
	}
	c.handleNotification(s, data)
	return nil
}

// abandon tears down a session whose setup failed.
func (c *Client) abandon(s *Session) {
	s.teardown()
	if conn := s.connection(); conn != nil && conn.Connected() {
		_ = conn.Disconnect()
	}
	c.restoreState()
}

func (c *Client) handleNotification(s *Session, data []byte) {
	p, err := protocol.DecodePosition(data, c.opts.MicrostepsPerRev)
	if err != nil {
		slog.Debug("[BLE] dropping position notification", "error", err)
		return
	}
	s.publish(p)
}

// handleDisconnect runs when the link of s drops. Events for a session that
// has already been replaced only finish its teardown. A drop while Connect
// is still setting s up marks it dropped; the retry loop reconnects or the
// final check in Connect fails the setup.
func (c *Client) handleDisconnect(s *Session) {
	c.mu.Lock()
	current := c.session == s
	c.mu.Unlock()
	if !current {
		s.teardown()
		slog.Debug("[BLE] ignoring disconnect of replaced session", "address", s.device.Address)
		return
	}
	if s.markDropped() {
		slog.Debug("[BLE] link dropped during setup", "address", s.device.Address)
		return
	}

	s.teardown()

	slog.Warn("[BLE] disconnected", "name", s.device.Name, "address", s.device.Address)
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateIdle)) && c.opts.OnState != nil {
		c.opts.OnState(StateIdle)
	}
}

func (c *Client) commandChar() Characteristic {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdChar
}

func (c *Client) positionChar() (*Session, Characteristic) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s, s.posChar
}

// SendCommand clamps value to a byte and writes it to the command
// characteristic. Failures leave the session usable for another try.
func (c *Client) SendCommand(value int) error {
	b := protocol.ClampCommand(value)
	ch := c.commandChar()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Write([]byte{b}); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	slog.Debug("[BLE] command sent", "value", fmt.Sprintf("0x%02X", b))
	return nil
}

// ReadPosition reads and decodes the position characteristic on demand.
// The sample is also published to the session's stream.
func (c *Client) ReadPosition() (protocol.Position, error) {
	s, ch := c.positionChar()
	if ch == nil {
		return protocol.Position{}, ErrNotConnected
	}
	data, err := ch.Read()
	if err != nil {
		return protocol.Position{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	p, err := protocol.DecodePosition(data, c.opts.MicrostepsPerRev)
	if err != nil {
		return protocol.Position{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	s.publish(p)
	return p, nil
}

// Close disconnects the active session.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	var err error
	if s != nil {
		s.teardown()
		if conn := s.connection(); conn != nil && conn.Connected() {
			err = conn.Disconnect()
		}
	}
	c.setState(StateIdle)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
