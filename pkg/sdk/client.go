// Package sdk talks to an oxygen server the way a cabinet does. One Client
// is one cabinet connection: calls are sent one at a time and carry an
// increasing sequence number.
package sdk

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/rs/zerolog"
)

// Protocol selects the transport.
type Protocol int

const (
	Stream Protocol = iota
	HTTP
)

func (p Protocol) String() string {
	switch p {
	case Stream:
		return "stream"
	case HTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Options configures a client
type Options struct {
	Protocol Protocol
	Addr     string

	// Model and PCBID identify the emulated cabinet.
	Model string
	PCBID string

	// Compress lz77 compresses requests. Plaintext sends requests without
	// X-Eamuse-Info, which also skips the server's sequence check.
	Compress  bool
	Plaintext bool

	DialTimeout  time.Duration // default 10 seconds
	ReadTimeout  time.Duration // default 30 seconds
	WriteTimeout time.Duration // default 30 seconds

	Logger *zerolog.Logger
}

// SetDefaults fills unset options
func (o *Options) SetDefaults() *Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8083"
	}
	if o.Model == "" {
		o.Model = "LDJ:J:A:A:2020092900"
	}
	if o.PCBID == "" {
		o.PCBID = "01201000000000000000"
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// ParseDSN parses oxygen://host:port?protocol=http&model=...&pcbid=...
func ParseDSN(dsn string) (*Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.New(ErrInvalidDSN, "invalid DSN", err)
	}
	if u.Scheme != "oxygen" || u.Host == "" {
		return nil, errors.New(ErrInvalidDSN, "DSN must look like oxygen://host:port", nil).AddContext("dsn", dsn)
	}

	o := &Options{Addr: u.Host}
	q := u.Query()
	switch strings.ToLower(q.Get("protocol")) {
	case "", "stream":
		o.Protocol = Stream
	case "http":
		o.Protocol = HTTP
	default:
		return nil, errors.New(ErrInvalidDSN, "unknown protocol", nil).AddContext("protocol", q.Get("protocol"))
	}
	o.Model = q.Get("model")
	o.PCBID = q.Get("pcbid")

	for key, dst := range map[string]*bool{"compress": &o.Compress, "plaintext": &o.Plaintext} {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errors.New(ErrInvalidDSN, "invalid boolean parameter", err).AddContext("param", key)
			}
			*dst = b
		}
	}
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New(ErrInvalidDSN, "invalid timeout", err).AddContext("timeout", v)
		}
		o.ReadTimeout, o.WriteTimeout = d, d
	}
	return o, nil
}

// transport moves one frame to the server and back.
type transport interface {
	roundTrip(ctx context.Context, f protocol.Frame) (protocol.Frame, error)
	ping(ctx context.Context) error
	close() error
}

// Client is one emulated cabinet connection
type Client struct {
	opt *Options
	tr  transport

	mu     sync.Mutex
	seq    uint16
	closed bool
}

// NewClient dials the server
func NewClient(ctx context.Context, opt *Options) (*Client, error) {
	if opt == nil {
		opt = &Options{}
	}
	o := opt.SetDefaults()

	var (
		tr  transport
		err error
	)
	switch o.Protocol {
	case Stream:
		tr, err = dialStream(ctx, o)
	case HTTP:
		tr = newHTTPTransport(o)
	default:
		err = errors.New(ErrInvalidOptions, "unknown protocol", nil).AddContext("protocol", o.Protocol.String())
	}
	if err != nil {
		return nil, err
	}

	o.Logger.Debug().Str("protocol", o.Protocol.String()).Str("addr", o.Addr).Msg("Connected")
	return &Client{opt: o, tr: tr}, nil
}

// Open dials the server and checks that it answers
func Open(ctx context.Context, opt *Options) (*Client, error) {
	c, err := NewClient(ctx, opt)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks that the server answers on the transport
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New(ErrClientClosed, "client is closed", nil)
	}
	return c.tr.ping(ctx)
}

// Call sends service as the body of a call and returns the service element
// of the response.
func (c *Client) Call(ctx context.Context, service *kbin.Node) (*kbin.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New(ErrClientClosed, "client is closed", nil)
	}

	c.seq++
	env := c.envelope(service.Clone())
	frame, err := protocol.Encode(env)
	if err != nil {
		return nil, err
	}

	c.opt.Logger.Debug().
		Str("service", service.Name).
		Str("method", service.Attr("method")).
		Uint16("seq", c.seq).
		Msg("Sending call")

	reply, err := c.tr.roundTrip(ctx, frame)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.Decode(reply)
	if err != nil {
		return nil, err
	}
	if resp.Root.Name != protocol.RootResponse {
		return nil, errors.New(ErrUnexpectedReply, "reply is not a response document", nil).AddContext("root", resp.Root.Name)
	}
	body := resp.Root.Child(service.Name)
	if body == nil {
		return nil, errors.New(ErrUnexpectedReply, "reply has no element for the service", nil).AddContext("service", service.Name)
	}
	return body, nil
}

func (c *Client) envelope(service *kbin.Node) *protocol.Envelope {
	opts := protocol.Options{Document: kbin.DefaultOptions(), Compression: protocol.CompressionNone}
	if c.opt.Compress {
		opts.Compression = protocol.CompressionLZ77
	}
	if !c.opt.Plaintext {
		opts.Info = protocol.Info{Version: 1, Time: uint32(time.Now().Unix()), Counter: c.seq}.String()
	}
	return &protocol.Envelope{
		Root: kbin.NewVoid(protocol.RootCall, service).
			SetAttr("model", c.opt.Model).
			SetAttr("srcid", c.opt.PCBID),
		Options: opts,
	}
}

// Sequence returns the sequence number of the last call
func (c *Client) Sequence() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close releases the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.tr.close()
}

// deadline is the earlier of the context deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
