package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeCommandWireShape(t *testing.T) {
	payload, err := EncodeCommand(2, "newSession", map[string]any{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `[0,2,"newSession",{}]` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestEncodeCommandNilParamsIsEmptyObject(t *testing.T) {
	payload, err := EncodeCommand(7, "WebDriver:GetURL", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `[0,7,"WebDriver:GetURL",{}]` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestEncodeCommandTypedNilParamsIsEmptyObject(t *testing.T) {
	for name, params := range map[string]any{
		"nil map":         map[string]any(nil),
		"nil raw message": json.RawMessage(nil),
		"null raw":        json.RawMessage("null"),
		"nil pointer":     (*struct{ URL string })(nil),
	} {
		payload, err := EncodeCommand(3, "getUrl", params)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		if string(payload) != `[0,3,"getUrl",{}]` {
			t.Fatalf("%s: unexpected payload: %s", name, payload)
		}
		if _, err := DecodeCommand(payload); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
	}
}

func TestEncodeCommandRejectsNonObjectParams(t *testing.T) {
	for name, params := range map[string]any{
		"slice":  []int{1, 2},
		"string": "about:blank",
		"number": 42,
		"bool":   true,
		"raw":    json.RawMessage(`[1]`),
	} {
		if payload, err := EncodeCommand(1, "getUrl", params); !errors.Is(err, ErrProtocol) {
			t.Fatalf("%s: expected ErrProtocol, got payload=%s err=%v", name, payload, err)
		}
	}
}

func TestEncodeCommandRejectsEmptyName(t *testing.T) {
	if _, err := EncodeCommand(1, "  ", nil); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestEncodeCommandRejectsUnencodableParams(t *testing.T) {
	_, err := EncodeCommand(1, "exec", map[string]any{"fn": func() {}})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestCommandRoundTripPreservesNameAndParams(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
	}{
		{name: "newSession", params: map[string]any{}},
		{name: "WebDriver:Navigate", params: map[string]any{"url": "https://example.com/?q=ü"}},
		{name: "Addon:Install", params: map[string]any{"path": "/tmp/x.xpi", "temporary": true}},
		{name: "WebDriver:ExecuteScript", params: map[string]any{
			"script": "return 1",
			"args":   []any{1.5, "two", nil, map[string]any{"nested": []any{}}},
		}},
	}
	for i, tc := range cases {
		payload, err := EncodeCommand(uint64(i+1), tc.name, tc.params)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.name, err)
		}
		cmd, err := DecodeCommand(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", tc.name, err)
		}
		if cmd.MessageID != uint64(i+1) || cmd.Name != tc.name {
			t.Fatalf("unexpected command: %+v", cmd)
		}
		var got map[string]any
		if err := json.Unmarshal(cmd.Params, &got); err != nil {
			t.Fatalf("params: %v", err)
		}
		want := normalize(t, tc.params)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("params mismatch: got=%#v want=%#v", got, want)
		}
	}
}

func TestDecodeResponseSuccess(t *testing.T) {
	resp, err := DecodeResponse([]byte(`[1,1,null,{"sessionId":"abc","capabilities":{}}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MessageID != 1 || resp.Error != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if string(resp.Result) != `{"sessionId":"abc","capabilities":{}}` {
		t.Fatalf("unexpected result: %s", resp.Result)
	}
}

func TestDecodeResponseArbitraryResult(t *testing.T) {
	for _, raw := range []string{`[1,3,null,null]`, `[1,3,null,"x"]`, `[1,3,null,[1,2]]`, `[1,3,null,42]`} {
		resp, err := DecodeResponse([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if resp.MessageID != 3 {
			t.Fatalf("unexpected id: %d", resp.MessageID)
		}
	}
}

func TestDecodeResponseRemoteError(t *testing.T) {
	raw := `[1,9,{"error":"no such element","message":"Unable to locate","stacktrace":"at foo"},null]`
	resp, err := DecodeResponse([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil {
		t.Fatalf("expected remote error")
	}
	if resp.Error.Kind != "no such element" || resp.Error.Message != "Unable to locate" || resp.Error.Stacktrace != "at foo" {
		t.Fatalf("unexpected remote error: %+v", resp.Error)
	}
	if !errors.Is(resp.Error, ErrRemoteCommand) {
		t.Fatalf("remote error should match ErrRemoteCommand")
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{`,
		"object":          `{"a":1}`,
		"short":           `[1,1,null]`,
		"long":            `[1,1,null,{},5]`,
		"command tag":     `[0,1,null,{}]`,
		"string tag":      `["1",1,null,{}]`,
		"null id":         `[1,null,null,{}]`,
		"string id":       `[1,"1",null,{}]`,
		"fractional id":   `[1,1.5,null,{}]`,
		"negative id":     `[1,-4,null,{}]`,
		"error string":    `[1,1,"boom",null]`,
		"error no kind":   `[1,1,{"message":"x"},null]`,
		"error bad shape": `[1,1,{"error":5},null]`,
	}
	for name, raw := range cases {
		if _, err := DecodeResponse([]byte(raw)); !errors.Is(err, ErrProtocol) {
			t.Fatalf("%s: expected ErrProtocol, got %v", name, err)
		}
	}
}

func TestEncodeResponseRoundTrip(t *testing.T) {
	payload, err := EncodeResponse(4, &RemoteError{Kind: "timeout", Message: "slow"}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MessageID != 4 || resp.Error == nil || resp.Error.Kind != "timeout" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	payload, err = EncodeResponse(5, nil, map[string]string{"value": "ok"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `[1,5,null,{"value":"ok"}]` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestDecodeCommandRejectsNonObjectParams(t *testing.T) {
	if _, err := DecodeCommand([]byte(`[0,1,"x",[]]`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if _, err := DecodeCommand([]byte(`[0,1,"",{}]`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestDecodeGreeting(t *testing.T) {
	g, err := DecodeGreeting([]byte(`{"applicationType":"gecko","marionetteProtocol":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.ApplicationType != "gecko" || g.Protocol != 3 {
		t.Fatalf("unexpected greeting: %+v", g)
	}
	if _, err := DecodeGreeting([]byte(`[1,1,null,{}]`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if _, err := DecodeGreeting([]byte(`{"applicationType":"gecko"}`)); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestRemoteErrorText(t *testing.T) {
	err := &RemoteError{Kind: "unknown command", Message: "Foo:Bar"}
	if err.Error() != "remote: unknown command: Foo:Bar" {
		t.Fatalf("unexpected text: %q", err.Error())
	}
	if (&RemoteError{Kind: "x"}).Error() != "remote: x" {
		t.Fatalf("unexpected bare text")
	}
}

func normalize(t *testing.T, v map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}
