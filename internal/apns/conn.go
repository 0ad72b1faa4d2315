// Package apns maintains a persistent, multiplexed HTTP/2 connection to the
// Apple Push Notification service and delivers per-notification outcomes
// through caller-supplied callbacks.
package apns

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/xkilldash9x/pushwire/internal/observability"
)

// Gateway endpoints published by Apple.
const (
	GatewayProduction = "https://api.push.apple.com"
	GatewaySandbox    = "https://api.sandbox.push.apple.com"
)

// Defaults applied by NewConn when the corresponding Config field is zero.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultSweepInterval = time.Second
	DefaultPingTimeout   = 5 * time.Second

	dialTimeout = 20 * time.Second
)

// HTTP/2 protocol constants the connection starts from; the gateway may
// revise them via SETTINGS.
const (
	initialWindowSize      = 65535
	initialHeaderTableSize = 4096
	defaultMaxFrameSize    = 16384
)

// Config carries everything a Conn needs before its first push. Exactly one
// of the certificate or token-key fields must be set.
type Config struct {
	// Gateway is the provider API origin. Empty selects GatewayProduction.
	Gateway string

	// CertificatePath points at a PEM bundle holding the provider client
	// certificate and key. CertificatePassphrase decrypts the key block
	// when the bundle is encrypted.
	CertificatePath       string
	CertificatePassphrase string

	// TokenKeyPath points at a .p8 ES256 signing key; TokenKeyID and
	// TokenTeamID fill the kid header and iss claim of minted tokens.
	TokenKeyPath string
	TokenKeyID   string
	TokenTeamID  string

	// Timeout bounds how long a push may wait for a gateway response
	// before its callback is failed over to OnTimeout.
	Timeout time.Duration

	// SweepInterval is how often the timeout sweeper scans for expired
	// pushes. Eviction granularity, not accuracy, is the trade-off.
	SweepInterval time.Duration

	// PingInterval enables liveness PINGs on an otherwise idle connection
	// when positive. PingTimeout is how long to wait for the ack.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Conn is a client connection to the push gateway. The zero cost of an
// unused Conn is deliberate: the socket is dialed on the first Push, not at
// construction. A Conn is safe for concurrent use and may be reused after
// Close, which re-dials on the next Push.
type Conn struct {
	cfg       Config
	logger    *zap.Logger
	authority string
	addr      string

	cert    tls.Certificate
	certSet bool
	tokens  *TokenSource

	// dial produces the transport socket; tests substitute a pipe.
	dial func() (net.Conn, error)

	registry *registry
	wg       sync.WaitGroup

	mu           sync.Mutex
	opened       bool
	dead         bool
	fatalErr     error
	sock         net.Conn
	framer       *http2.Framer
	henc         *hpack.Encoder
	hbuf         *bytes.Buffer
	outq         *sendQueue
	nextStreamID uint32
	maxFrameSize uint32
	recvWindow   int32
	stopc        chan struct{}
	deadc        chan struct{}
	pingAcks     map[[8]byte]chan struct{}
}

// NewConn validates cfg and loads credentials eagerly so that a
// misconfigured client fails at construction rather than on the first push.
// No network activity happens here.
func NewConn(cfg Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = observability.GetLogger()
	}
	if cfg.Gateway == "" {
		cfg.Gateway = GatewayProduction
	}
	u, err := url.Parse(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("apns: parse gateway %q: %w", cfg.Gateway, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w (got %q)", ErrGatewayScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("apns: gateway %q has no host", cfg.Gateway)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "443")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	c := &Conn{
		cfg:       cfg,
		logger:    logger.Named("apns"),
		authority: u.Host,
		addr:      addr,
		registry:  newRegistry(),
	}
	c.dial = c.dialGateway

	certAuth := cfg.CertificatePath != ""
	tokenAuth := cfg.TokenKeyPath != ""
	switch {
	case certAuth && tokenAuth:
		return nil, ErrDualAuth
	case certAuth:
		cert, err := LoadCertificate(cfg.CertificatePath, cfg.CertificatePassphrase)
		if err != nil {
			return nil, err
		}
		c.cert = cert
		c.certSet = true
	case tokenAuth:
		ts, err := NewTokenSource(cfg.TokenKeyPath, cfg.TokenKeyID, cfg.TokenTeamID)
		if err != nil {
			return nil, err
		}
		c.tokens = ts
	default:
		return nil, ErrNoAuth
	}
	return c, nil
}

// Push submits one notification and returns once it has been handed to the
// transport. Exactly one of cb.OnResponse or cb.OnTimeout fires later, from
// a connection goroutine. An error return means the notification was never
// submitted and cb will not be invoked.
func (c *Conn) Push(n *Notification, cb Callback) error {
	if cb == nil {
		return errors.New("apns: push requires a callback")
	}
	if err := n.Validate(); err != nil {
		return err
	}

	var bearer string
	if c.tokens != nil {
		b, err := c.tokens.Bearer()
		if err != nil {
			return err
		}
		bearer = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return err
	}

	id := c.nextStreamID
	c.nextStreamID += 2

	// Register before writing: the response can race back before Push
	// returns, and the record must already be claimable then.
	c.registry.add(id, cb, time.Now())

	c.hbuf.Reset()
	for _, f := range n.headerFields(c.authority, bearer) {
		if err := c.henc.WriteField(f); err != nil {
			c.registry.claim(id)
			return fmt.Errorf("apns: encode headers: %w", err)
		}
	}
	block := make([]byte, c.hbuf.Len())
	copy(block, c.hbuf.Bytes())

	// Request headers stay well under the frame size limit, so a single
	// HEADERS frame always suffices.
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndHeaders:    true,
	}); err != nil {
		c.registry.claim(id)
		return fmt.Errorf("apns: write headers: %w", err)
	}
	if err := c.framer.WriteData(id, true, n.Payload); err != nil {
		c.registry.claim(id)
		return fmt.Errorf("apns: write body: %w", err)
	}

	c.logger.Debug("push submitted",
		zap.Uint32("stream", id),
		zap.String("device", n.DeviceToken))
	return nil
}

// Pending reports how many pushes are awaiting a response or timeout.
func (c *Conn) Pending() int {
	return c.registry.len()
}

// connectLocked brings up the transport on first use. Callers hold c.mu.
// After a transport failure the stored error is returned for every push
// until Close resets the connection.
func (c *Conn) connectLocked() error {
	if c.opened {
		if c.dead {
			return fmt.Errorf("apns: connection failed: %w", c.fatalErr)
		}
		return nil
	}

	sock, err := c.dial()
	if err != nil {
		return fmt.Errorf("apns: dial gateway: %w", err)
	}
	if tc, ok := sock.(*tls.Conn); ok {
		if proto := tc.ConnectionState().NegotiatedProtocol; proto != "h2" {
			sock.Close()
			return fmt.Errorf("apns: gateway did not negotiate HTTP/2 (alpn %q)", proto)
		}
	}

	// The preface goes straight to the socket; everything after flows
	// through the send queue so pushes never block on the network.
	if _, err := sock.Write([]byte(http2.ClientPreface)); err != nil {
		sock.Close()
		return fmt.Errorf("apns: write connection preface: %w", err)
	}

	outq := newSendQueue()
	framer := http2.NewFramer(outq, sock)
	framer.ReadMetaHeaders = hpack.NewDecoder(initialHeaderTableSize, nil)
	hbuf := &bytes.Buffer{}

	if err := framer.WriteSettings(
		http2.Setting{ID: http2.SettingEnablePush, Val: 0},
	); err != nil {
		sock.Close()
		return fmt.Errorf("apns: write settings: %w", err)
	}

	c.sock = sock
	c.framer = framer
	c.henc = hpack.NewEncoder(hbuf)
	c.hbuf = hbuf
	c.outq = outq
	c.nextStreamID = 1
	c.maxFrameSize = defaultMaxFrameSize
	c.recvWindow = initialWindowSize
	c.dead = false
	c.fatalErr = nil
	c.stopc = make(chan struct{})
	c.deadc = make(chan struct{})
	c.pingAcks = make(map[[8]byte]chan struct{})
	c.opened = true

	c.wg.Add(3)
	go c.writeLoop(sock, outq, c.deadc)
	go c.readLoop(framer, c.deadc)
	go c.sweepLoop(c.stopc)
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(c.stopc)
	}

	c.logger.Info("connection established", zap.String("gateway", c.authority))
	return nil
}

func (c *Conn) dialGateway() (net.Conn, error) {
	tlsCfg := &tls.Config{
		ServerName: c.hostOnly(),
		NextProtos: []string{"h2"},
		MinVersion: tls.VersionTLS12,
	}
	if c.certSet {
		tlsCfg.Certificates = []tls.Certificate{c.cert}
	}
	d := &net.Dialer{Timeout: dialTimeout}
	return tls.DialWithDialer(d, "tcp", c.addr, tlsCfg)
}

func (c *Conn) hostOnly() string {
	if host, _, err := net.SplitHostPort(c.addr); err == nil {
		return host
	}
	return c.addr
}

// transportFailed tears down the socket after an unrecoverable transport
// error. Pushes already in flight are left to the sweeper; their callbacks
// fire OnTimeout once the deadline passes.
func (c *Conn) transportFailed(err error) {
	c.mu.Lock()
	if !c.opened || c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.fatalErr = err
	close(c.deadc)
	c.outq.close()
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	c.logger.Warn("transport failed; in-flight pushes resolve via timeout",
		zap.Error(err))
}

// Close shuts the connection down and blocks until every background
// goroutine has exited. Pushes still awaiting a response are discarded
// without a callback. Close is idempotent, and the Conn may be pushed on
// again afterwards. Do not call Close from inside a Callback; it joins the
// goroutine the callback runs on.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return nil
	}
	c.opened = false
	close(c.stopc)

	// Best effort: let the write loop flush the GOAWAY while it drains
	// the queue on its way out.
	if !c.dead {
		_ = c.framer.WriteGoAway(0, http2.ErrCodeNo, nil)
		c.dead = true
		close(c.deadc)
	}
	c.outq.close()
	sock := c.sock
	c.sock = nil
	c.framer = nil
	c.henc = nil
	c.hbuf = nil
	c.outq = nil
	c.stopc = nil
	c.deadc = nil
	c.pingAcks = nil
	c.fatalErr = nil
	c.mu.Unlock()

	var closeErr error
	if sock != nil {
		closeErr = sock.Close()
	}
	c.wg.Wait()

	if discarded := len(c.registry.drain()); discarded > 0 {
		c.logger.Warn("pushes discarded at close", zap.Int("count", discarded))
	}
	c.logger.Info("connection closed")
	return closeErr
}
