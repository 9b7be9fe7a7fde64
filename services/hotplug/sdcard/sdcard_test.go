package sdcard

import (
	"context"
	"errors"
	"testing"
	"time"

	"gadgetcore/errcode"
	"gadgetcore/internal/halcore"
)

// emu answers SPI-mode commands the way a card does: a 6-byte frame, then
// the response on the following clocked bytes.
type emu struct {
	v1      bool
	sdhc    bool
	busyFor int // ACMD41 polls answered idle before ready
	badEcho bool
	dead    bool
	frame   []byte
	out     []byte
	app     bool
	seen    []byte
}

func (e *emu) reply(w byte) byte {
	if e.dead {
		return 0xFF
	}
	if len(e.frame) > 0 || (len(e.out) == 0 && w&0xC0 == 0x40) {
		e.frame = append(e.frame, w)
		if len(e.frame) == 6 {
			e.respond()
			e.frame = nil
		}
		return 0xFF
	}
	if len(e.out) > 0 {
		b := e.out[0]
		e.out = e.out[1:]
		return b
	}
	return 0xFF
}

func (e *emu) respond() {
	cmd := e.frame[0] & 0x3F
	e.seen = append(e.seen, cmd)
	app := e.app
	e.app = false
	switch {
	case cmd == 0:
		e.out = []byte{0xFF, 0x01} // one byte of Ncr before R1
	case cmd == 8 && e.v1:
		e.out = []byte{0x05}
	case cmd == 8:
		echo := e.frame[4]
		if e.badEcho {
			echo = 0x55
		}
		e.out = []byte{0x01, 0x00, 0x00, e.frame[3], echo}
	case cmd == 55:
		e.app = true
		e.out = []byte{0x01}
	case cmd == 41 && app:
		if e.busyFor > 0 {
			e.busyFor--
			e.out = []byte{0x01}
		} else {
			e.out = []byte{0x00}
		}
	case cmd == 58:
		ocr0 := byte(0x80)
		if e.sdhc {
			ocr0 |= 0x40
		}
		e.out = []byte{0x00, ocr0, 0xFF, 0x80, 0x00}
	case cmd == 16:
		e.out = []byte{0x00}
	default:
		e.out = []byte{0x04}
	}
}

func newInit(e *emu) (*Initializer, *halcore.FakeSPI, *halcore.FakePin) {
	spi := &halcore.FakeSPI{Reply: e.reply}
	cs := halcore.NewFakePin(17, false)
	return &Initializer{SPI: spi, CS: cs, ReadyTimeout: 200 * time.Millisecond}, spi, cs
}

func TestInitSDHC(t *testing.T) {
	e := &emu{sdhc: true, busyFor: 3}
	in, spi, cs := newInit(e)

	got, err := in.Init(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c := got.(*Card)
	if c.Version != 2 || !c.HighCapacity {
		t.Fatalf("card %+v", c)
	}
	if !cs.Get() {
		t.Fatal("CS must be released after init")
	}
	// Ten wake-up bytes precede the first frame.
	out := spi.Written()
	for i := 0; i < 10; i++ {
		if out[i] != 0xFF {
			t.Fatalf("wake byte %d = %#x", i, out[i])
		}
	}
	if out[10] != 0x40 || out[15] != 0x95 {
		t.Fatalf("CMD0 frame % X", out[10:16])
	}
	want := []byte{0, 8, 55, 41, 55, 41, 55, 41, 55, 41, 58}
	if string(e.seen) != string(want) {
		t.Fatalf("commands %v want %v", e.seen, want)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestInitStandardCapacitySetsBlockLength(t *testing.T) {
	e := &emu{}
	in, _, _ := newInit(e)
	got, err := in.Init(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.(*Card).HighCapacity {
		t.Fatal("SDSC reported as high capacity")
	}
	if e.seen[len(e.seen)-1] != 16 {
		t.Fatalf("expected CMD16 last, got %v", e.seen)
	}
}

func TestInitVersion1(t *testing.T) {
	e := &emu{v1: true}
	in, _, _ := newInit(e)
	got, err := in.Init(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.(*Card).Version != 1 {
		t.Fatalf("version %d", got.(*Card).Version)
	}
	for _, c := range e.seen {
		if c == 58 {
			t.Fatal("v1 cards are not asked for OCR")
		}
	}
}

func TestInitErrors(t *testing.T) {
	cases := []struct {
		name string
		emu  *emu
		spi  error
		want errcode.Code
	}{
		{"no card", &emu{dead: true}, nil, errcode.NoCard},
		{"bad echo", &emu{badEcho: true}, nil, errcode.IOError},
		{"never ready", &emu{busyFor: 1 << 30}, nil, errcode.Timeout},
		{"bus error", &emu{}, errors.New("spi fault"), errcode.IOError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, spi, cs := newInit(tc.emu)
			spi.Err = tc.spi
			in.ReadyTimeout = 20 * time.Millisecond
			_, err := in.Init(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err %v want %s", err, tc.want)
			}
			if !cs.Get() {
				t.Fatal("CS left asserted after failure")
			}
		})
	}
}

func TestInitHonoursContext(t *testing.T) {
	in, _, _ := newInit(&emu{busyFor: 1 << 30})
	in.ReadyTimeout = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := in.Init(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err %v", err)
	}
}
