package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func TestDecodeTaggedShapes(t *testing.T) {
	testlog.Start(t)
	tag, body, err := DecodeTagged("ControlMsg", []byte(`"OpenSession"`))
	if err != nil || tag != "OpenSession" || body != nil {
		t.Fatalf("unit variant: tag=%q body=%s err=%v", tag, body, err)
	}
	tag, body, err = DecodeTagged("ControlMsg", []byte(` {"Session":"abc"} `))
	if err != nil || tag != "Session" || string(body) != `"abc"` {
		t.Fatalf("newtype variant: tag=%q body=%s err=%v", tag, body, err)
	}
	for _, bad := range []string{``, `{}`, `{"A":1,"B":2}`, `[1]`, `42`, `{"A":`, `{"A":1,"A":2}`, `{"A":1} {}`} {
		if _, _, err := DecodeTagged("ControlMsg", []byte(bad)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%q: expected ErrMalformedMessage, got %v", bad, err)
		}
	}
}

func TestReadObjectRejectsDuplicateKeys(t *testing.T) {
	testlog.Start(t)
	obj, err := ReadObject("Put", []byte(`{"a":1,"A":2}`))
	if err != nil || len(obj) != 2 || string(obj["a"]) != "1" {
		t.Fatalf("distinct keys: %v %v", obj, err)
	}
	if _, err := ReadObject("Put", []byte(`{"a":1,"b":{"a":1},"a":3}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestEncodeTagged(t *testing.T) {
	testlog.Start(t)
	out, err := EncodeTagged("CloseSession", nil)
	if err != nil || string(out) != `"CloseSession"` {
		t.Fatalf("unit: %s %v", out, err)
	}
	out, err = EncodeTagged("Fifo", 256)
	if err != nil || string(out) != `{"Fifo":256}` {
		t.Fatalf("newtype: %s %v", out, err)
	}
}

func TestIsNull(t *testing.T) {
	if !IsNull(nil) || !IsNull([]byte(" null ")) || IsNull([]byte(`0`)) {
		t.Fatalf("IsNull misclassified input")
	}
}
