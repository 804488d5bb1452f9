package codec

import (
	"errors"
	"testing"

	"sse-rpc/message"
)

func TestJSONCodecEncodeRequest(t *testing.T) {
	jsonCodec := &JSONCodec{}

	req, err := message.NewRequest("3-f00d", message.MethodToolsCall, message.CallToolParams{
		Name:      "add_numbers",
		Arguments: map[string]any{"a": 5, "b": 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := jsonCodec.Encode(req)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	want := `{"jsonrpc":"2.0","id":"3-f00d","method":"tools/call","params":{"name":"add_numbers","arguments":{"a":5,"b":3}}}`
	if string(data) != want {
		t.Errorf("Encode mismatch:\n got %s\nwant %s", data, want)
	}
}

func TestJSONCodecDecodeClassifies(t *testing.T) {
	jsonCodec := &JSONCodec{}

	cases := []struct {
		name string
		in   string
		kind Kind
	}{
		{"result", `{"jsonrpc":"2.0","id":"1-a","result":{"tools":[]}}`, KindResponse},
		{"error", `{"jsonrpc":"2.0","id":"1-a","error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"null result", `{"jsonrpc":"2.0","id":"1-a","result":null}`, KindResponse},
		{"numeric id", `{"jsonrpc":"2.0","id":9,"result":{}}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, KindNotification},
		{"server request", `{"jsonrpc":"2.0","id":"s1","method":"ping"}`, KindRequest},
	}

	for _, tc := range cases {
		in, err := jsonCodec.Decode([]byte(tc.in))
		if err != nil {
			t.Fatalf("%s: Decode failed: %v", tc.name, err)
		}
		if in.Kind != tc.kind {
			t.Errorf("%s: got kind %d, want %d", tc.name, in.Kind, tc.kind)
		}
		if tc.kind == KindResponse && in.Response == nil {
			t.Errorf("%s: response not populated", tc.name)
		}
		if tc.kind != KindResponse && in.Notification == nil {
			t.Errorf("%s: notification not populated", tc.name)
		}
	}
}

func TestJSONCodecDecodeRejects(t *testing.T) {
	jsonCodec := &JSONCodec{}

	cases := []struct {
		in   string
		want error
	}{
		{`{"jsonrpc":"2.0","id":"1","result":1,"error":{"code":1,"message":"x"}}`, ErrUnknownEnvelope},
		{`{"jsonrpc":"2.0","id":"1"}`, ErrUnknownEnvelope},
		{`{"jsonrpc":"2.0","result":{}}`, ErrUnknownEnvelope},
		{`{"jsonrpc":"1.0","id":"1","result":{}}`, ErrBadVersion},
	}
	for _, tc := range cases {
		_, err := jsonCodec.Decode([]byte(tc.in))
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.in, err, tc.want)
		}
	}

	if _, err := jsonCodec.Decode([]byte(`{not json`)); err == nil {
		t.Error("expect error for invalid json")
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec("").Name() != "json" || GetCodec("json").Name() != "json" {
		t.Fatal("expect json codec by default")
	}
	if GetCodec("binary") != nil {
		t.Fatal("expect nil for unknown codec")
	}
}
