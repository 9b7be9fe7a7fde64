// Package telemetry mirrors selected bus topics onto a byte link (a UART on
// the handheld, a serial port on a host) as length-prefixed JSON frames.
//
// The link is dialled again with exponential backoff whenever it fails.
// On every (re)connect the latest retained message of each mirrored topic
// is replayed first, so the far end always starts from current state.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gadgetcore/bus"
	"gadgetcore/internal/logging"
	"gadgetcore/types"
	"gadgetcore/x/timex"
)

var topicState = bus.T("telemetry", "state")

// Dial opens the link. It is called again after every failure.
type Dial func(ctx context.Context) (io.ReadWriteCloser, error)

// Envelope is the JSON body of a publish frame.
type Envelope struct {
	Topic    string `json:"topic"`
	Retained bool   `json:"retained,omitempty"`
	Payload  any    `json:"payload"`
}

type Service struct {
	conn   *bus.Connection
	dial   Dial
	topics []bus.Topic
	log    *slog.Logger

	// Ping is the keepalive period while the link is up.
	Ping time.Duration
	// BackoffMin and BackoffMax bound the redial delay.
	BackoffMin, BackoffMax time.Duration

	in chan *bus.Message

	mu       sync.Mutex
	retained map[string]*bus.Message

	sent  atomic.Uint32
	drops atomic.Uint32
}

func New(conn *bus.Connection, dial Dial, topics []bus.Topic, logger *slog.Logger) *Service {
	return &Service{
		conn:       conn,
		dial:       dial,
		topics:     topics,
		log:        logging.NewComponentLogger(logger, "telemetry"),
		Ping:       5 * time.Second,
		BackoffMin: 250 * time.Millisecond,
		BackoffMax: 5 * time.Second,
		in:         make(chan *bus.Message, 32),
		retained:   map[string]*bus.Message{},
	}
}

// Run mirrors until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if s.dial == nil {
		s.publishState("idle", "no_link", nil)
		return
	}

	var wg sync.WaitGroup
	for _, t := range s.topics {
		sub := s.conn.Subscribe(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.collect(ctx, sub)
		}()
	}
	defer wg.Wait()

	backoff := backoffSeq(s.BackoffMin, s.BackoffMax)
	for ctx.Err() == nil {
		rwc, err := s.dial(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if timex.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		backoff = backoffSeq(s.BackoffMin, s.BackoffMax)
		err = s.handleLink(ctx, rwc)
		_ = rwc.Close()
		if ctx.Err() != nil {
			s.publishState("idle", "stopped", nil)
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if timex.Sleep(ctx, delay) != nil {
			return
		}
	}
}

// collect feeds one subscription into the shared queue, never blocking the
// bus. Retained messages are also cached for replay.
func (s *Service) collect(ctx context.Context, sub *bus.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			if m.Retained {
				s.mu.Lock()
				s.retained[m.Topic.String()] = m
				s.mu.Unlock()
			}
			select {
			case s.in <- m:
			default:
				s.drops.Add(1)
			}
		}
	}
}

var errRemoteClosed = errors.New("remote closed link")

// handleLink owns the active link lifetime.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	errCh := make(chan error, 1)
	pongs := make(chan struct{}, 1)
	go func() {
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case framePing:
				select {
				case pongs <- struct{}{}:
				default:
				}
			case frameClose:
				errCh <- errRemoteClosed
				return
			}
		}
	}()

	if err := s.replay(wr); err != nil {
		return err
	}

	tick := time.NewTicker(s.Ping)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			return err
		case <-pongs:
			if err := wr.WriteFrame(Frame{Type: framePong}); err != nil {
				return err
			}
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		case m := <-s.in:
			if err := s.forward(wr, m); err != nil {
				return err
			}
		}
	}
}

func (s *Service) replay(wr *framedWriter) error {
	s.mu.Lock()
	msgs := make([]*bus.Message, 0, len(s.retained))
	for _, m := range s.retained {
		msgs = append(msgs, m)
	}
	s.mu.Unlock()
	for _, m := range msgs {
		if err := s.forward(wr, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) forward(wr *framedWriter, m *bus.Message) error {
	body, err := json.Marshal(Envelope{Topic: m.Topic.String(), Retained: m.Retained, Payload: m.Payload})
	if err != nil {
		s.log.Warn("unencodable payload", logging.String("topic", m.Topic.String()), logging.Error(err))
		s.drops.Add(1)
		return nil
	}
	if len(body) > maxPayload {
		s.log.Warn("payload too large", logging.String("topic", m.Topic.String()), logging.Int("bytes", len(body)))
		s.drops.Add(1)
		return nil
	}
	if err := wr.WriteFrame(Frame{Type: framePub, Payload: body}); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// Stats reports frames forwarded and messages dropped.
func (s *Service) Stats() (sent, drops uint32) { return s.sent.Load(), s.drops.Load() }

func (s *Service) publishState(level, status string, err error) {
	st := types.LinkState{
		Level:  level,
		Status: status,
		Sent:   s.sent.Load(),
		Drops:  s.drops.Load(),
		TSms:   timex.NowMs(),
	}
	if err != nil {
		st.Error = err.Error()
		s.log.Warn(status, logging.Error(err))
	} else {
		s.log.Info(status)
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}
