// Package scpitest provides a scripted SCPI transport for driver tests.
package scpitest

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/gotmc/fulaut/lib/scpi"
)

// Fake records program messages and answers queries from a script. Each
// registered query has a queue of responses; the last one repeats once the
// queue is drained. Unscripted queries produce no response, so the reader
// sees io.EOF.
type Fake struct {
	mu        sync.Mutex
	sent      []string
	responses map[string][]string
	in        []byte
	out       bytes.Buffer
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{responses: make(map[string][]string)}
}

// On scripts the responses to query. Terminators are added.
func (f *Fake) On(query string, responses ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range responses {
		f.responses[query] = append(f.responses[query], r+"\n")
	}
	return f
}

// OnBlock scripts a definite-length block response to query.
func (f *Fake) OnBlock(query string, data []byte) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[query] = append(f.responses[query], string(scpi.EncodeBlock(data))+"\n")
	return f
}

// Write implements io.Writer.
func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in = append(f.in, p...)
	for {
		msg, n, ok := scpi.NextMessage(f.in, '\n')
		if !ok {
			break
		}
		line := string(msg)
		f.in = f.in[n:]
		f.sent = append(f.sent, line)
		if !IsQuery(line) {
			continue
		}
		queue := f.responses[line]
		if len(queue) == 0 {
			continue
		}
		f.out.WriteString(queue[0])
		if len(queue) > 1 {
			f.responses[line] = queue[1:]
		}
	}
	return len(p), nil
}

// Read implements io.Reader.
func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return 0, io.EOF
	}
	return f.out.Read(p)
}

// Sent returns every program message written so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Commands returns the messages written so far that are not queries.
func (f *Fake) Commands() []string {
	var cmds []string
	for _, s := range f.Sent() {
		if !IsQuery(s) {
			cmds = append(cmds, s)
		}
	}
	return cmds
}

// Reset forgets the recorded messages but keeps the script.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// IsQuery reports whether the last command of a compound message is a query.
func IsQuery(msg string) bool {
	parts := strings.Split(msg, ";")
	last := strings.TrimSpace(parts[len(parts)-1])
	head := last
	if k := strings.IndexByte(last, ' '); k >= 0 {
		head = last[:k]
	}
	return strings.HasSuffix(head, "?")
}
