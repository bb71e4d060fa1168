// Package sim emulates the characterization bench in memory: a PNA-L, a
// GS210, an EXG and a 33500B connected to a chip of flux tunable transmons,
// each read out through a notch type resonator.
//
// Every instrument is a Conn that parses the program messages the drivers
// send, so the drivers run unchanged on top of it.
package sim

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/scpi"
)

// esb is the event status bit of the status byte.
const esb = 1 << 5

// cmd is one program message unit with its header in short form.
type cmd struct {
	header string // e.g. "SENS:SWE:POIN?"
	nums   []int  // numeric suffix per header node, 0 if absent
	arg    string
}

func (c cmd) query() bool { return strings.HasSuffix(c.header, "?") }

// key is the header without the query mark.
func (c cmd) key() string { return strings.TrimSuffix(c.header, "?") }

func (c cmd) num(node int) int {
	if node < len(c.nums) {
		return c.nums[node]
	}
	return 0
}

func (c cmd) float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(c.arg), 64)
}

// upper is the argument in upper case.
func (c cmd) upper() string { return strings.ToUpper(strings.TrimSpace(c.arg)) }

func (c cmd) String() string {
	if c.arg == "" {
		return c.header
	}
	return c.header + " " + c.arg
}

// aliases map long forms written in capitals, which shortForm cannot
// reduce, and synonyms onto one key.
var aliases = map[string]string{
	"FORMAT:DATA": "FORM:DATA",
	"SWE:POIN":    "SENS:SWE:POIN",
	"SENS:AVER":   "SENS:AVER:STAT",
}

// shortForm reduces a header to the short form of each node without
// numeric suffixes: "SENSe1:SWEep:POINts?" gives "SENS:SWE:POIN?" and
// [1 0 0]. Nodes written in one case are taken as they are.
func shortForm(h string) (string, []int) {
	h = strings.TrimPrefix(strings.TrimSpace(h), ":")
	q := strings.HasSuffix(h, "?")
	h = strings.TrimSuffix(h, "?")
	nodes := strings.Split(h, ":")
	nums := make([]int, len(nodes))
	for k, n := range nodes {
		end := len(n)
		for end > 0 && n[end-1] >= '0' && n[end-1] <= '9' {
			end--
		}
		if end < len(n) {
			nums[k], _ = strconv.Atoi(n[end:])
		}
		nodes[k] = shortNode(n[:end])
	}
	key := strings.Join(nodes, ":")
	if a, ok := aliases[key]; ok {
		key = a
	}
	if q {
		key += "?"
	}
	return key, nums
}

func shortNode(n string) string {
	uppers := 0
	for _, r := range n {
		if unicode.IsUpper(r) {
			uppers++
		}
	}
	if uppers < 2 || uppers == len(n) {
		return strings.ToUpper(n)
	}
	var b strings.Builder
	for _, r := range n {
		if !unicode.IsLower(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitUnits splits a program message on the semicolons that are not
// inside quotes or blocks.
func splitUnits(msg []byte) []string {
	var units []string
	quote := byte(0)
	start := 0
	for k := 0; k < len(msg); k++ {
		c := msg[k]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			if _, n, err := scpi.DecodeBlock(msg[k:]); err == nil {
				k += n - 1
			}
		case c == ';':
			units = append(units, string(msg[start:k]))
			start = k + 1
		}
	}
	return append(units, string(msg[start:]))
}

func parseUnit(u string) (cmd, bool) {
	u = strings.TrimLeft(u, " \t\r\n")
	if u == "" {
		return cmd{}, false
	}
	head, arg := u, ""
	if k := strings.IndexAny(u, " \t"); k >= 0 {
		head, arg = u[:k], strings.TrimLeft(u[k+1:], " \t")
	}
	if !strings.Contains(arg, "#") {
		arg = strings.TrimSpace(arg)
	}
	h, nums := shortForm(head)
	return cmd{header: h, nums: nums, arg: arg}, true
}

// device is the instrument behind a Conn. exec returns the response to a
// query, without terminator.
type device interface {
	exec(c cmd) (string, error)
	identity() string
	reset()
}

// Conn is the transport of one simulated instrument. All Conns of a Bench
// share its lock.
type Conn struct {
	mu     *sync.Mutex
	dev    device
	in     []byte
	out    bytes.Buffer
	esr    byte
	ese    byte
	errs   []string
	closed bool
	log    *zap.Logger
}

func newConn(mu *sync.Mutex, dev device, log *zap.Logger) *Conn {
	return &Conn{mu: mu, dev: dev, log: log}
}

// Write implements io.Writer.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.in = append(c.in, p...)
	for {
		msg, n, ok := scpi.NextMessage(c.in, '\n')
		if !ok {
			break
		}
		units := splitUnits(msg)
		c.in = c.in[n:]
		for _, u := range units {
			if cc, ok := parseUnit(u); ok {
				c.run(cc)
			}
		}
	}
	return len(p), nil
}

func (c *Conn) run(cc cmd) {
	resp, err := c.common(cc)
	if err != nil {
		c.errs = append(c.errs, fmt.Sprintf("%s: %v", cc, err))
		c.log.Warn("simulated instrument rejected command", zap.Stringer("cmd", cc), zap.Error(err))
		return
	}
	if cc.query() {
		c.out.WriteString(resp)
		c.out.WriteByte('\n')
	}
}

// common handles the IEEE 488.2 common commands and hands the rest to the
// device.
func (c *Conn) common(cc cmd) (string, error) {
	switch cc.header {
	case "*CLS":
		c.esr = 0
	case "*ESE":
		v, err := strconv.Atoi(cc.arg)
		if err != nil {
			return "", err
		}
		c.ese = byte(v)
	case "*ESE?":
		return strconv.Itoa(int(c.ese)), nil
	case "*ESR?":
		v := c.esr
		c.esr = 0
		return strconv.Itoa(int(v)), nil
	case "*OPC":
		c.esr |= 1
	case "*OPC?":
		return "1", nil
	case "*STB?":
		return strconv.Itoa(int(c.stb())), nil
	case "*WAI":
	case "*IDN?":
		return c.dev.identity(), nil
	case "*RST":
		c.dev.reset()
	case "SYST:ERR?":
		if len(c.errs) == 0 {
			return `+0,"No error"`, nil
		}
		e := c.errs[0]
		c.errs = c.errs[1:]
		return fmt.Sprintf(`-100,"%s"`, e), nil
	default:
		return c.dev.exec(cc)
	}
	return "", nil
}

func (c *Conn) stb() byte {
	var stb byte
	if c.esr&c.ese != 0 {
		stb |= esb
	}
	return stb
}

// Read implements io.Reader. It returns io.EOF when no response is queued.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if c.out.Len() == 0 {
		return 0, io.EOF
	}
	return c.out.Read(p)
}

// StatusByte serial polls the instrument.
func (c *Conn) StatusByte() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stb(), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Errors returns the commands the instrument rejected and that were not
// read back with SYST:ERR?.
func (c *Conn) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errs...)
}

// params is the plain settings store of a device: commands set a value
// that the matching query returns.
type params map[string]string

func (p params) float(key string) float64 {
	v, _ := strconv.ParseFloat(p[key], 64)
	return v
}

func (p params) int(key string) int {
	return int(p.float(key))
}

func (p params) on(key string) bool {
	b, _ := scpi.ParseBool(p[key])
	return b
}

// storeOrGet sets or returns a known setting.
func (p params) storeOrGet(c cmd) (string, error) {
	k := c.key()
	v, ok := p[k]
	if !ok {
		return "", fmt.Errorf("undefined header %s", c.header)
	}
	if c.query() {
		return v, nil
	}
	p[k] = c.arg
	return "", nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func onOffArg(s string) (string, error) {
	b, err := scpi.ParseBool(s)
	if err != nil {
		return "", err
	}
	if b {
		return "1", nil
	}
	return "0", nil
}
