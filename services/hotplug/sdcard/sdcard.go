// Package sdcard brings an SD card up in SPI mode. It only performs the
// identification sequence; block I/O belongs to the filesystem layer.
package sdcard

import (
	"context"
	"time"

	"gadgetcore/errcode"
	"gadgetcore/internal/halcore"
	"gadgetcore/services/hotplug"
	"gadgetcore/x/timex"
)

const (
	cmdGoIdle     = 0
	cmdSendIfCond = 8
	cmdSetBlock   = 16
	cmdAppCmd     = 55
	cmdReadOCR    = 58
	acmdSendOp    = 41

	r1Idle    = 0x01
	r1Illegal = 0x04

	ifCondArg = 0x1AA // 2.7-3.6V, check pattern 0xAA
	hcsBit    = 1 << 30
	ccsBit    = 0x40 // in OCR byte 0
)

// Card is an identified card. Close deselects it.
type Card struct {
	spi halcore.SPI
	cs  halcore.GPIOPin

	Version      int // 1 or 2
	HighCapacity bool
	OCR          uint32
}

func (c *Card) Close() error {
	c.cs.Set(true)
	_, err := c.spi.Transfer(0xFF)
	return err
}

type Initializer struct {
	SPI halcore.SPI
	CS  halcore.GPIOPin

	// ReadyTimeout bounds the ACMD41 loop. Zero means one second.
	ReadyTimeout time.Duration
	// PollInterval is the pause between ACMD41 attempts. Zero means 1ms.
	PollInterval time.Duration
}

var _ hotplug.Initializer = (*Initializer)(nil)

// Init runs the SPI-mode identification sequence once.
func (in *Initializer) Init(ctx context.Context) (hotplug.Card, error) {
	c, err := in.identify(ctx)
	if err != nil {
		in.CS.Set(true)
		return nil, err
	}
	return c, nil
}

func (in *Initializer) identify(ctx context.Context) (*Card, error) {
	if err := in.CS.ConfigureOutput(true); err != nil {
		return nil, errcode.Wrap(errcode.IOError, "sdcard.cs", err)
	}

	// At least 74 clocks with CS high to enter native mode.
	var ones [10]byte
	for i := range ones {
		ones[i] = 0xFF
	}
	if err := in.SPI.Tx(ones[:], nil); err != nil {
		return nil, errcode.Wrap(errcode.IOError, "sdcard.wake", err)
	}

	r1, err := in.command(cmdGoIdle, 0, 0x95, nil)
	if err != nil {
		return nil, err
	}
	if r1 != r1Idle {
		return nil, &errcode.E{C: errcode.NoCard, Op: "sdcard.cmd0", Msg: "card did not enter idle state"}
	}

	card := &Card{spi: in.SPI, cs: in.CS, Version: 2}
	var r7 [4]byte
	r1, err = in.command(cmdSendIfCond, ifCondArg, 0x87, r7[:])
	if err != nil {
		return nil, err
	}
	if r1&r1Illegal != 0 {
		card.Version = 1
	} else if r7[2]&0x0F != 0x01 || r7[3] != 0xAA {
		return nil, &errcode.E{C: errcode.IOError, Op: "sdcard.cmd8", Msg: "bad check pattern"}
	}

	arg := uint32(0)
	if card.Version == 2 {
		arg = hcsBit
	}
	if err := in.waitReady(ctx, arg); err != nil {
		return nil, err
	}

	if card.Version == 2 {
		var ocr [4]byte
		r1, err = in.command(cmdReadOCR, 0, 0xFF, ocr[:])
		if err != nil {
			return nil, err
		}
		if r1 != 0 {
			return nil, &errcode.E{C: errcode.IOError, Op: "sdcard.cmd58", Msg: "unexpected response"}
		}
		card.OCR = uint32(ocr[0])<<24 | uint32(ocr[1])<<16 | uint32(ocr[2])<<8 | uint32(ocr[3])
		card.HighCapacity = ocr[0]&ccsBit != 0
	}
	if !card.HighCapacity {
		if r1, err = in.command(cmdSetBlock, 512, 0xFF, nil); err != nil {
			return nil, err
		}
		if r1 != 0 {
			return nil, &errcode.E{C: errcode.IOError, Op: "sdcard.cmd16", Msg: "block length rejected"}
		}
	}
	return card, nil
}

func (in *Initializer) waitReady(ctx context.Context, arg uint32) error {
	limit := in.ReadyTimeout
	if limit <= 0 {
		limit = time.Second
	}
	poll := in.PollInterval
	if poll <= 0 {
		poll = time.Millisecond
	}
	deadline := time.Now().Add(limit)
	for {
		if _, err := in.command(cmdAppCmd, 0, 0xFF, nil); err != nil {
			return err
		}
		r1, err := in.command(acmdSendOp, arg, 0xFF, nil)
		if err != nil {
			return err
		}
		if r1 == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return &errcode.E{C: errcode.Timeout, Op: "sdcard.acmd41", Msg: "card stayed idle"}
		}
		if err := timex.Sleep(ctx, poll); err != nil {
			return err
		}
	}
}

// command sends one frame, waits for R1 and then reads len(extra) trailing
// response bytes. CS is released afterwards.
func (in *Initializer) command(cmd byte, arg uint32, crc byte, extra []byte) (byte, error) {
	frame := [6]byte{0x40 | cmd, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg), crc}

	in.CS.Set(false)
	defer func() {
		in.CS.Set(true)
		_, _ = in.SPI.Transfer(0xFF)
	}()

	if err := in.SPI.Tx(frame[:], nil); err != nil {
		return 0, errcode.Wrap(errcode.IOError, "sdcard.cmd", err)
	}
	r1 := byte(0xFF)
	for i := 0; i < 10; i++ {
		b, err := in.SPI.Transfer(0xFF)
		if err != nil {
			return 0, errcode.Wrap(errcode.IOError, "sdcard.r1", err)
		}
		if b&0x80 == 0 {
			r1 = b
			break
		}
	}
	if r1 == 0xFF {
		return 0, &errcode.E{C: errcode.NoCard, Op: "sdcard.r1", Msg: "no response"}
	}
	for i := range extra {
		b, err := in.SPI.Transfer(0xFF)
		if err != nil {
			return 0, errcode.Wrap(errcode.IOError, "sdcard.resp", err)
		}
		extra[i] = b
	}
	return r1, nil
}
