// Package localid generates client-side message identifiers.
//
// An id embeds a zero-padded monotonic counter followed by the device id
// and a random suffix. The counter makes ids from one process sort in
// compose order under ASCII comparison (the tie-break in the message
// total order); the random suffix keeps ids unique across restarts and
// devices. Wall-clock time is deliberately not an input.
package localid

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique, orderable local ids for one device.
type Generator struct {
	device  string
	counter atomic.Uint64
}

// NewGenerator creates a Generator for the given device id. An empty
// device id gets a random one, so a misconfigured profile still produces
// unique ids.
func NewGenerator(deviceID string) *Generator {
	if deviceID == "" {
		deviceID = uuid.NewString()[:8]
	}
	return &Generator{device: sanitize(deviceID)}
}

// Next returns a fresh local id. Safe for concurrent use.
func (g *Generator) Next() string {
	n := g.counter.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%016x-%s-%s", n, g.device, suffix)
}

// DeviceID returns the device component of generated ids.
func (g *Generator) DeviceID() string {
	return g.device
}

// sanitize strips characters that would disturb the id's ASCII ordering
// or make it awkward in URLs and logs.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	if b.Len() == 0 {
		return "dev"
	}
	out := b.String()
	if len(out) > 12 {
		out = out[:12]
	}
	return out
}
