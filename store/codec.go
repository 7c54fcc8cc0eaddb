package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire shapes. Field names are short and stable; they are part of the
// persisted format.
type emailV1Wire struct {
	Title     string `msgpack:"t"`
	Content   string `msgpack:"c"`
	Timestamp uint64 `msgpack:"ts"`
}

type emailCurrentWire struct {
	Title     string `msgpack:"t"`
	Content   string `msgpack:"c"`
	Timestamp uint64 `msgpack:"ts"`
	Fee       string `msgpack:"f"`
}

// EncodeEmail serializes a versioned email as a one-byte version tag
// followed by a msgpack body.
func EncodeEmail(v Versioned) ([]byte, error) {
	var body any
	switch e := v.(type) {
	case EmailV1:
		body = emailV1Wire{Title: e.Title, Content: e.Content, Timestamp: e.Timestamp}
	case EmailCurrent:
		body = emailCurrentWire{
			Title:     e.Title,
			Content:   e.Content,
			Timestamp: e.Timestamp,
			Fee:       e.Fee.String(),
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVersion, v)
	}

	b, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode email: %w", err)
	}
	return append([]byte{byte(v.Version())}, b...), nil
}

// DecodeEmail is the inverse of EncodeEmail. The returned value keeps the
// layout it was stored under; call Upgrade to get the current shape.
func DecodeEmail(data []byte) (Versioned, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty email record", ErrCorruptRecord)
	}

	switch Version(data[0]) {
	case VersionV1:
		var w emailV1Wire
		if err := msgpack.Unmarshal(data[1:], &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		return EmailV1{Title: w.Title, Content: w.Content, Timestamp: w.Timestamp}, nil

	case VersionCurrent:
		var w emailCurrentWire
		if err := msgpack.Unmarshal(data[1:], &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		fee, err := ParseBalance(w.Fee)
		if err != nil {
			return nil, err
		}
		return EmailCurrent{Email: Email{
			Title:     w.Title,
			Content:   w.Content,
			Timestamp: w.Timestamp,
			Fee:       fee,
		}}, nil

	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownVersion, data[0])
	}
}
