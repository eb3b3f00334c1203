package trackcodec

import "testing"

func TestHandshakeRoundTrip(t *testing.T) {
	msgs := []Handshake{
		NewFreshSession(7, 1747915754),
		NewReconnect(7, 99),
	}

	for _, m := range msgs {
		enc := m.Encode()
		if len(enc) != HandshakeSize {
			t.Fatalf("encoded size = %d, want %d", len(enc), HandshakeSize)
		}

		got, err := DecodeHandshake(enc)
		if err != nil {
			t.Fatalf("DecodeHandshake: %v", err)
		}
		if got != m {
			t.Errorf("round trip mismatch: got %+v want %+v", got, m)
		}
	}
}

func TestDecodeHandshakeInvalidTag(t *testing.T) {
	buf := NewFreshSession(1, 1).Encode()
	buf[0] = 2
	_, err := DecodeHandshake(buf)
	if err != ErrInvalidTag {
		t.Fatalf("expected ErrInvalidTag, got %v", err)
	}
}

func TestDecodeHandshakeShortBuffer(t *testing.T) {
	_, err := DecodeHandshake(make([]byte, 5))
	if err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}
