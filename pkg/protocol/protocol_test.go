package protocol

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"reload", Reload(), `{"type":"reload"}`},
		{"update", Update("b.js"), `{"type":"update","url":"b.js"}`},
		{"error", Message{Type: TypeError, Error: "boom"}, `{"type":"error","error":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"update","url":"/src/a.js"}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if msg.Type != TypeUpdate || msg.URL != "/src/a.js" {
		t.Errorf("Decode() = %+v", msg)
	}
	if !msg.Known() {
		t.Error("update should be a known type")
	}
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"css","file":"a.css"}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if msg.Known() {
		t.Errorf("type %q should not be known", msg.Type)
	}
}

func TestDecode_Malformed(t *testing.T) {
	payloads := []string{
		`not json`,
		`[]`,
		`{}`,
		`{"type":""}`,
		`{"type":42}`,
		`{"url":"a.js"}`,
	}

	for _, p := range payloads {
		_, err := Decode([]byte(p))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformed", p, err)
		}
	}
}

func TestDecode_OddlyShapedFields(t *testing.T) {
	tests := []struct {
		payload string
		want    Message
	}{
		{`{"type":"custom","error":{"code":1}}`, Message{Type: "custom"}},
		{`{"type":"update","url":42}`, Message{Type: TypeUpdate}},
		{`{"type":"error","error":["a"]}`, Message{Type: TypeError}},
		{`{"type":"update","url":"/a.js","extra":null}`, Update("/a.js")},
	}

	for _, tt := range tests {
		got, err := Decode([]byte(tt.payload))
		if err != nil {
			t.Errorf("Decode(%s) error: %v", tt.payload, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Decode(%s) = %+v, want %+v", tt.payload, got, tt.want)
		}
	}
}
