package structure

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode is returned for a frame body that is not a valid Frame.
var ErrDecode = errors.New("structure: malformed frame")

// field numbers
const (
	frameKind  protowire.Number = 1
	frameHello protowire.Number = 2
	frameMsg   protowire.Number = 3

	helloID   protowire.Number = 1
	helloAddr protowire.Number = 2

	msgSender  protowire.Number = 1
	msgContent protowire.Number = 2
	msgClock   protowire.Number = 3
	msgRound   protowire.Number = 4
)

// Marshal encodes f in protobuf wire format.
func (f Frame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, frameKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	switch f.Kind {
	case KindHello:
		b = protowire.AppendTag(b, frameHello, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Hello.marshal())
	case KindMessage:
		b = protowire.AppendTag(b, frameMsg, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Msg.marshal())
	}
	return b
}

func (h Hello) marshal() []byte {
	var b []byte
	b = appendInt32(b, helloID, h.ID)
	b = protowire.AppendTag(b, helloAddr, protowire.BytesType)
	b = protowire.AppendString(b, h.Addr)
	return b
}

func (m Message) marshal() []byte {
	var b []byte
	b = appendInt32(b, msgSender, m.SenderID)
	b = protowire.AppendTag(b, msgContent, protowire.BytesType)
	b = protowire.AppendString(b, m.Content)

	var packed []byte
	for _, c := range m.Clock {
		packed = protowire.AppendVarint(packed, uint64(int64(int32(c))))
	}
	b = protowire.AppendTag(b, msgClock, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	b = appendInt32(b, msgRound, m.Round)
	return b
}

func appendInt32(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(int32(v))))
}

// UnmarshalFrame decodes a frame body produced by Frame.Marshal.
// Unknown fields are skipped.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	var hello, msg []byte
	var hasHello, hasMsg bool
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == frameKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Kind = FrameKind(v)
			return n, nil
		case num == frameHello && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			hello, hasHello = v, true
			return n, nil
		case num == frameMsg && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			msg, hasMsg = v, true
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Frame{}, err
	}

	switch f.Kind {
	case KindHello:
		if !hasHello {
			return Frame{}, fmt.Errorf("%w: hello frame without body", ErrDecode)
		}
		f.Hello, err = unmarshalHello(hello)
	case KindMessage:
		if !hasMsg {
			return Frame{}, fmt.Errorf("%w: message frame without body", ErrDecode)
		}
		f.Msg, err = unmarshalMessage(msg)
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame kind %d", ErrDecode, f.Kind)
	}
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func unmarshalHello(b []byte) (Hello, error) {
	var h Hello
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == helloID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.ID = int(int32(v))
			return n, nil
		case num == helloAddr && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.Addr = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return h, err
}

func unmarshalMessage(b []byte) (Message, error) {
	var m Message
	m.Clock = VectorClock{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == msgSender && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.SenderID = int(int32(v))
			return n, nil
		case num == msgContent && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Content = v
			return n, nil
		case num == msgClock && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return 0, fmt.Errorf("%w: clock: %v", ErrDecode, protowire.ParseError(k))
				}
				m.Clock = append(m.Clock, int(int32(v)))
				packed = packed[k:]
			}
			return n, nil
		case num == msgClock && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Clock = append(m.Clock, int(int32(v)))
			return n, nil
		case num == msgRound && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Round = int(int32(v))
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return m, err
}

// walk calls field for every field in b. field consumes the value and
// returns its length, or a negative protowire error code.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
