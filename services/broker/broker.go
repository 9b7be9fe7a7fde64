// Package broker arbitrates the gadget's shared peripherals between
// cooperative clients and routes raw input to whichever client owns it.
//
// Ownership is recomputed from scratch on every Register and Unregister.
// Clients are visited in descending priority (equal priorities in
// registration order); a client becomes active when no tag it lists is held
// at a strictly higher priority, and then claims all of its tags. Losing
// ownership is silent unless the client opted in with WithOnDeactivate.
package broker

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"gadgetcore/bus"
	"gadgetcore/errcode"
	"gadgetcore/internal/logging"
	"gadgetcore/types"
	"gadgetcore/x/timex"
)

var topicOwners = bus.T("hal", "owners")

// callback is a queued notification. It is dropped if the registration's
// generation moved on before it ran.
type callback struct {
	r   *Registration
	gen uint32
	fn  func()
}

// sink is the current input destination. A nil *sink is the no-op sink.
type sink struct {
	fn    InputFunc
	owner *Registration
}

type Broker struct {
	mu      sync.Mutex
	regs    []*Registration // registration order
	holders map[Resource]*Registration

	input atomic.Pointer[sink]

	conn *bus.Connection // optional
	log  *slog.Logger
}

// New creates a broker. conn may be nil when no owners snapshot is wanted.
func New(conn *bus.Connection, logger *slog.Logger) *Broker {
	return &Broker{
		holders: map[Resource]*Registration{},
		conn:    conn,
		log:     logging.NewComponentLogger(logger, "broker"),
	}
}

// Register adds a client and recomputes ownership before returning, so the
// returned handle may already be active and its OnActivate already run.
//
// Two registered clients may not list an overlapping tag at the same
// priority; that is reported as errcode.PriorityConflict and nothing changes.
func (b *Broker) Register(priority int, resources []Resource, opts ...Option) (*Registration, error) {
	r := newRegistration(priority, resources, opts)

	b.mu.Lock()
	for _, c := range b.regs {
		if c.priority != priority {
			continue
		}
		if tag, clash := c.overlaps(r.resources); clash {
			b.mu.Unlock()
			b.log.Warn("priority clash",
				logging.String("existing", c.String()),
				logging.String("new", r.String()),
				logging.String("resource", string(tag)),
			)
			return nil, &errcode.E{
				C:   errcode.PriorityConflict,
				Op:  "broker.register",
				Msg: r.name + " and " + c.name + " both claim " + string(tag) + " at the same priority",
			}
		}
	}
	b.regs = append(b.regs, r)
	b.log.Debug("registered", logging.String(logging.FieldClient, r.String()))
	fire := b.recompute()
	b.mu.Unlock()

	b.finish(fire)
	return r, nil
}

// Unregister removes a client; unknown or nil handles are ignored.
func (b *Broker) Unregister(r *Registration) {
	if r == nil {
		return
	}
	b.mu.Lock()
	idx := -1
	for i, c := range b.regs {
		if c == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return
	}
	b.regs = append(b.regs[:idx], b.regs[idx+1:]...)
	r.active.Store(false)
	r.gen.Add(1)
	b.log.Debug("unregistered", logging.String(logging.FieldClient, r.String()))
	fire := b.recompute()
	b.mu.Unlock()

	b.finish(fire)
}

// Dispatch delivers one input code to the current input owner, if any.
// It takes no lock and is safe to call from the input worker at any time.
func (b *Broker) Dispatch(code types.InputCode) {
	if s := b.input.Load(); s != nil && s.fn != nil {
		s.fn(code)
	}
}

// InputOwner names the registration currently receiving input, or "".
func (b *Broker) InputOwner() string {
	if s := b.input.Load(); s != nil && s.owner != nil {
		return s.owner.name
	}
	return ""
}

// recompute rebuilds the ownership table and publishes the owners snapshot.
// Caller holds b.mu, which keeps snapshots in table order. Callbacks are
// returned rather than run so that they execute after the lock is released.
func (b *Broker) recompute() []callback {
	holders := make(map[Resource]*Registration, len(b.holders))

	order := make([]*Registration, len(b.regs))
	copy(order, b.regs)
	sort.SliceStable(order, func(i, j int) bool { return order[i].priority > order[j].priority })

	var fire []callback
	for _, r := range order {
		ready := true
		for _, res := range r.resources {
			if h := holders[res]; h != nil && h.priority > r.priority {
				ready = false
				break
			}
		}

		if !ready {
			if r.active.Swap(false) {
				gen := r.gen.Add(1)
				b.log.Debug("deactivated", logging.String(logging.FieldClient, r.String()))
				if r.onDeactivate != nil {
					fire = append(fire, callback{r: r, gen: gen, fn: r.onDeactivate})
				}
			}
			continue
		}

		for _, res := range r.resources {
			holders[res] = r
		}
		if !r.active.Load() {
			r.active.Store(true)
			gen := r.gen.Add(1)
			b.log.Debug("activated", logging.String(logging.FieldClient, r.String()))
			if r.claims(ResInput) {
				b.input.Store(&sink{fn: r.onInput, owner: r})
			}
			if r.onActivate != nil {
				fire = append(fire, callback{r: r, gen: gen, fn: r.onActivate})
			}
		}
	}

	if h := holders[ResInput]; h == nil {
		b.input.Store(nil)
	} else if s := b.input.Load(); s == nil || s.owner != h {
		b.input.Store(&sink{fn: h.onInput, owner: h})
	}

	b.holders = holders
	if b.conn != nil {
		b.conn.Publish(b.conn.NewMessage(topicOwners, b.snapshotLocked(), true))
	}
	return fire
}

func (b *Broker) finish(fire []callback) {
	for _, c := range fire {
		if c.r.gen.Load() != c.gen {
			b.log.Debug("stale callback dropped", logging.String(logging.FieldClient, c.r.String()))
			continue
		}
		c.fn()
	}
}

// Owner describes the holder of one resource.
type Owner struct {
	Client   string
	Priority int
}

// Owners returns a copy of the ownership table.
func (b *Broker) Owners() map[Resource]Owner {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[Resource]Owner, len(b.holders))
	for res, r := range b.holders {
		out[res] = Owner{Client: r.name, Priority: r.priority}
	}
	return out
}

// Snapshot is a diagnostic view of one registration.
type Snapshot struct {
	ID        string
	Name      string
	Priority  int
	Resources []Resource
	Active    bool
}

// Registrations lists clients in descending priority.
func (b *Broker) Registrations() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Snapshot, 0, len(b.regs))
	for _, r := range b.regs {
		out = append(out, Snapshot{
			ID:        r.id,
			Name:      r.name,
			Priority:  r.priority,
			Resources: r.Resources(),
			Active:    r.active.Load(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (b *Broker) snapshotLocked() types.Owners {
	snap := types.Owners{TSms: timex.NowMs()}
	for res, r := range b.holders {
		snap.Entries = append(snap.Entries, types.OwnerEntry{
			Resource: string(res),
			Client:   r.name,
			Priority: r.priority,
		})
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Resource < snap.Entries[j].Resource })
	if s := b.input.Load(); s != nil && s.owner != nil {
		snap.Input = s.owner.name
	}
	return snap
}
