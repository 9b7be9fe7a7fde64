package platform

import "sync"

// simCard answers SPI-mode identification on the simulator's SD bus. It
// only responds while the socket's detect pin reports a card.
type simCard struct {
	mu      sync.Mutex
	present func() bool
	faulty  bool

	frame []byte
	out   []byte
	app   bool
}

func (c *simCard) setFaulty(v bool) {
	c.mu.Lock()
	c.faulty = v
	c.mu.Unlock()
}

func (c *simCard) reply(w byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulty || !c.present() {
		c.frame, c.out = nil, nil
		return 0xFF
	}
	if len(c.frame) > 0 || (len(c.out) == 0 && w&0xC0 == 0x40) {
		c.frame = append(c.frame, w)
		if len(c.frame) == 6 {
			c.respond()
			c.frame = nil
		}
		return 0xFF
	}
	if len(c.out) > 0 {
		b := c.out[0]
		c.out = c.out[1:]
		return b
	}
	return 0xFF
}

func (c *simCard) respond() {
	cmd := c.frame[0] & 0x3F
	app := c.app
	c.app = false
	switch {
	case cmd == 0:
		c.out = []byte{0x01}
	case cmd == 8:
		c.out = []byte{0x01, 0x00, 0x00, c.frame[3], c.frame[4]}
	case cmd == 55:
		c.app = true
		c.out = []byte{0x01}
	case cmd == 41 && app:
		c.out = []byte{0x00}
	case cmd == 58:
		c.out = []byte{0x00, 0xC0, 0xFF, 0x80, 0x00} // powered up, SDHC
	default:
		c.out = []byte{0x04}
	}
}
