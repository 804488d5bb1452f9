package message

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewRequestOmitsNilParams(t *testing.T) {
	req, err := NewRequest("1-abc", MethodToolsList, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","id":"1-abc","method":"tools/list"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestNotificationHasNoID(t *testing.T) {
	n, err := NewNotification(MethodInitialized, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(n)
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["id"]; ok {
		t.Fatalf("notification must not carry an id: %s", data)
	}
}

func TestIDAcceptsNumbers(t *testing.T) {
	cases := []struct {
		in   string
		want ID
	}{
		{`{"id":"7-x"}`, "7-x"},
		{`{"id":42}`, "42"},
		{`{"id":null}`, ""},
	}
	for _, tc := range cases {
		var v struct {
			ID ID `json:"id"`
		}
		if err := json.Unmarshal([]byte(tc.in), &v); err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if v.ID != tc.want {
			t.Errorf("%s: got %q, want %q", tc.in, v.ID, tc.want)
		}
	}
}

func TestResponseDecodeError(t *testing.T) {
	resp := &Response{ID: "1", Error: &Error{Code: CodeMethodNotFound, Message: "Unknown tool: nope"}}
	err := resp.Decode(&struct{}{})

	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expect *Error, got %v", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("expect code %d, got %d", CodeMethodNotFound, rpcErr.Code)
	}
}

func TestCallToolResultText(t *testing.T) {
	res := CallToolResult{Content: []Content{
		TextContent("8"),
		{Type: "image", Data: "aGk=", MimeType: "image/png"},
		TextContent("done"),
	}}
	if got := res.Text(); got != "8\ndone" {
		t.Fatalf("got %q", got)
	}
}

func TestWithIDCopies(t *testing.T) {
	req, _ := NewRequest("", MethodPing, nil)
	cp := req.WithID("2-z")
	if req.ID != "" || cp.ID != "2-z" {
		t.Fatalf("WithID must not mutate the original: %q %q", req.ID, cp.ID)
	}
}
