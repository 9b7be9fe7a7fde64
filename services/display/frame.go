package display

import "sync"

// Frame is the two-plane image the panel is pushed from. Writers draw into
// it under Update; the panel reads a consistent copy through Planes.
type Frame struct {
	mu    sync.Mutex
	black []byte
	red   []byte
}

func NewFrame(planeSize int) *Frame {
	return &Frame{black: make([]byte, planeSize), red: make([]byte, planeSize)}
}

// Update runs fn with exclusive access to both planes.
func (f *Frame) Update(fn func(black, red []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.black, f.red)
}

// Fill sets every byte of each plane.
func (f *Frame) Fill(black, red byte) {
	f.Update(func(b, r []byte) {
		for i := range b {
			b[i] = black
		}
		for i := range r {
			r[i] = red
		}
	})
}

func (f *Frame) Planes() (black, red []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.black...), append([]byte(nil), f.red...)
}
