package platform

import (
	"bufio"
	"context"
	"errors"
	"io"

	"gadgetcore/types"
)

// KeyCode maps a terminal key to an input code.
//
//	b, backspace  back
//	s, enter      select
//	d, +, ]       clockwise
//	a, -, [       counter-clockwise
func KeyCode(k byte) (types.InputCode, bool) {
	switch k {
	case 'b', 'B', 0x7F, 0x08:
		return types.InputBack, true
	case 's', 'S', '\r', '\n', ' ':
		return types.InputSelect, true
	case 'd', 'D', '+', ']':
		return types.InputCW, true
	case 'a', 'A', '-', '[':
		return types.InputCCW, true
	}
	return 0, false
}

// PumpFeed reads keys from r and hands each recognised one to fn until r
// is exhausted or ctx is done. CRLF counts as one select.
func PumpFeed(ctx context.Context, r io.Reader, fn func(types.InputCode)) error {
	br := bufio.NewReader(r)
	var prev byte
	for ctx.Err() == nil {
		k, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if k == '\n' && prev == '\r' {
			prev = k
			continue
		}
		prev = k
		if code, ok := KeyCode(k); ok {
			fn(code)
		}
	}
	return ctx.Err()
}
