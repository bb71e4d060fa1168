package visa

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/cmdlog"
	"github.com/gotmc/fulaut/lib/find"
	"github.com/gotmc/fulaut/lib/prologix"
	"github.com/gotmc/fulaut/lib/scpi"
)

// Options control how resources are opened.
type Options struct {
	Name         string        // label used in logs
	Timeout      time.Duration // read timeout
	BaudRate     int           // serial ports and serial Prologix links
	PrologixLink string        // adapter for GPIB resources; detected when empty
	WriteDelay   time.Duration
	Trace        bool // log every message at debug level
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.BaudRate == 0 {
		o.BaudRate = 115200
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

// Open opens the instrument named by resource.
func Open(ctx context.Context, resource string, opts Options) (*scpi.Instrument, error) {
	res, err := ParseResource(resource)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("resource", res.Raw))

	var rw io.ReadWriter
	switch res.Kind {
	case Socket:
		d := net.Dialer{Timeout: opts.Timeout}
		conn, err := d.DialContext(ctx, "tcp", res.Address())
		if err != nil {
			return nil, fmt.Errorf("visa: dial %s: %w", res.Address(), err)
		}
		rw = conn
	case Serial:
		port, err := openSerial(res.Device, opts)
		if err != nil {
			return nil, err
		}
		rw = port
	case GPIB:
		link := res.Device
		if link == "" {
			link = opts.PrologixLink
		}
		if link == "" {
			tty, err := find.Find(find.AnyFilter(find.PrologixFilter, find.AR488Filter))
			if err != nil {
				return nil, fmt.Errorf("visa: no Prologix adapter configured or found: %w", err)
			}
			link = "/dev/" + tty
		}
		conn, err := openGPIB(ctx, link, res, opts, log)
		if err != nil {
			return nil, err
		}
		rw = conn
	}
	log.Info("opened instrument", zap.String("kind", res.Kind.String()))
	if opts.Trace {
		rw = cmdlog.Wrap(rw, log)
	}
	return scpi.New(rw,
		scpi.WithName(opts.Name),
		scpi.WithTimeout(opts.Timeout),
		scpi.WithWriteDelay(opts.WriteDelay),
		scpi.WithLogger(opts.Logger),
	), nil
}

// serialConn turns the (0, nil) reads go.bug.st/serial reports on timeout
// into scpi.ErrTimeout.
type serialConn struct {
	serial.Port
}

func (s serialConn) Read(p []byte) (int, error) {
	n, err := s.Port.Read(p)
	if n == 0 && err == nil {
		return 0, scpi.ErrTimeout
	}
	return n, err
}

func openSerial(dev string, opts Options) (serialConn, error) {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: opts.BaudRate})
	if err != nil {
		return serialConn{}, fmt.Errorf("visa: open %s: %w", dev, err)
	}
	if err := port.SetReadTimeout(opts.Timeout); err != nil {
		port.Close()
		return serialConn{}, fmt.Errorf("visa: set timeout on %s: %w", dev, err)
	}
	return serialConn{port}, nil
}

// adapter is one physical Prologix link, shared by every GPIB instrument
// opened through it.
type adapter struct {
	mu      sync.Mutex
	link    io.ReadWriteCloser
	refs    int
	current *prologix.Controller
}

var (
	adaptersMu sync.Mutex
	adapters   = map[string]*adapter{}
)

func acquireAdapter(ctx context.Context, link string, opts Options) (*adapter, error) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	if a, ok := adapters[link]; ok {
		a.refs++
		return a, nil
	}
	var rwc io.ReadWriteCloser
	if strings.HasPrefix(link, "/") || strings.HasPrefix(strings.ToUpper(link), "COM") {
		port, err := openSerial(link, opts)
		if err != nil {
			return nil, err
		}
		rwc = port
	} else {
		d := net.Dialer{Timeout: opts.Timeout}
		conn, err := d.DialContext(ctx, "tcp", link)
		if err != nil {
			return nil, fmt.Errorf("visa: dial prologix %s: %w", link, err)
		}
		rwc = conn
	}
	a := &adapter{link: rwc, refs: 1}
	adapters[link] = a
	return a, nil
}

func releaseAdapter(link string) error {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	a, ok := adapters[link]
	if !ok {
		return nil
	}
	a.refs--
	if a.refs > 0 {
		return nil
	}
	delete(adapters, link)
	return a.link.Close()
}

// gpibConn is one instrument behind a shared adapter. It re-addresses the
// adapter whenever a different instrument was used last.
type gpibConn struct {
	*prologix.Controller
	a        *adapter
	linkName string
}

func openGPIB(ctx context.Context, link string, res Resource, opts Options, log *zap.Logger) (*gpibConn, error) {
	a, err := acquireAdapter(ctx, link, opts)
	if err != nil {
		return nil, err
	}
	copts := []prologix.ControllerOption{prologix.WithLogger(log)}
	if res.SecondaryAddr != 0 {
		copts = append(copts, prologix.WithSecondaryAddress(res.SecondaryAddr))
	}
	if opts.WriteDelay > 0 {
		copts = append(copts, prologix.WithWriteDelay(opts.WriteDelay))
	}
	a.mu.Lock()
	c, err := prologix.NewController(a.link, res.PrimaryAddr, false, copts...)
	if err == nil {
		a.current = c
	}
	a.mu.Unlock()
	if err != nil {
		return nil, multierr.Append(err, releaseAdapter(link))
	}
	return &gpibConn{Controller: c, a: a, linkName: link}, nil
}

func (g *gpibConn) selectSelf() error {
	if g.a.current == g.Controller {
		return nil
	}
	if err := g.Controller.Select(); err != nil {
		return err
	}
	g.a.current = g.Controller
	return nil
}

func (g *gpibConn) Write(p []byte) (int, error) {
	g.a.mu.Lock()
	defer g.a.mu.Unlock()
	if err := g.selectSelf(); err != nil {
		return 0, err
	}
	return g.Controller.Write(p)
}

func (g *gpibConn) RequestRead() error {
	g.a.mu.Lock()
	defer g.a.mu.Unlock()
	if err := g.selectSelf(); err != nil {
		return err
	}
	return g.Controller.RequestRead()
}

func (g *gpibConn) StatusByte() (byte, error) {
	g.a.mu.Lock()
	defer g.a.mu.Unlock()
	if err := g.selectSelf(); err != nil {
		return 0, err
	}
	return g.Controller.StatusByte()
}

// Close returns the instrument to front panel control and releases the
// adapter.
func (g *gpibConn) Close() error {
	g.a.mu.Lock()
	err := g.selectSelf()
	if err == nil {
		err = g.Controller.FrontPanel(true)
	}
	g.a.mu.Unlock()
	return multierr.Append(err, releaseAdapter(g.linkName))
}
