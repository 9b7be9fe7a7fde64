package broker

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"gadgetcore/types"
)

// Resource names one shared peripheral. Tags are open-ended; the well-known
// ones below are what the gadget hardware exposes.
type Resource string

const (
	ResOLED   Resource = "oled"
	ResMatrix Resource = "mtx"
	ResNeedle Resource = "needle"
	ResInput  Resource = "input"
)

// Well-known priority levels. Larger wins.
const (
	PriorityIdle     = 1
	PriorityStorage  = 5 // card warnings
	PriorityMenu     = 10
	PriorityShutdown = 100
)

// InputFunc receives input codes while its registration owns ResInput.
type InputFunc func(code types.InputCode)

// Registration is the handle Register returns. Clients read Active but
// never change it; only the broker's recomputation does.
type Registration struct {
	id           string
	name         string
	priority     int
	resources    []Resource
	onActivate   func()
	onDeactivate func()
	onInput      InputFunc

	active atomic.Bool
	gen    atomic.Uint32 // bumped on every ownership change, under the broker lock
}

// Option configures a registration.
type Option func(*Registration)

// WithOnActivate sets the callback run once per inactive->active transition.
// It runs after the broker lock is released and is skipped if the
// registration changed state again before it got to run.
func WithOnActivate(fn func()) Option { return func(r *Registration) { r.onActivate = fn } }

// WithOnInput sets the input sink installed while the registration holds ResInput.
func WithOnInput(fn InputFunc) Option { return func(r *Registration) { r.onInput = fn } }

// WithName sets the diagnostic label.
func WithName(name string) Option { return func(r *Registration) { r.name = name } }

// WithOnDeactivate opts in to a callback when the registration loses its
// resources to a higher priority client. Without it, loss is silent and the
// client has to notice through its own idle logic.
func WithOnDeactivate(fn func()) Option { return func(r *Registration) { r.onDeactivate = fn } }

func newRegistration(priority int, resources []Resource, opts []Option) *Registration {
	r := &Registration{
		id:        uuid.NewString(),
		name:      "(anon)",
		priority:  priority,
		resources: dedupe(resources),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registration) ID() string    { return r.id }
func (r *Registration) Name() string  { return r.name }
func (r *Registration) Priority() int { return r.priority }
func (r *Registration) Active() bool  { return r.active.Load() }

func (r *Registration) Resources() []Resource {
	return append([]Resource(nil), r.resources...)
}

func (r *Registration) String() string {
	return fmt.Sprintf("%s (priority=%d, resources=%v)", r.name, r.priority, r.resources)
}

func (r *Registration) claims(res Resource) bool {
	for _, x := range r.resources {
		if x == res {
			return true
		}
	}
	return false
}

func (r *Registration) overlaps(other []Resource) (Resource, bool) {
	for _, x := range other {
		if r.claims(x) {
			return x, true
		}
	}
	return "", false
}

func dedupe(in []Resource) []Resource {
	out := make([]Resource, 0, len(in))
	seen := make(map[Resource]struct{}, len(in))
	for _, r := range in {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
