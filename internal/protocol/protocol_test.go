package protocol

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(EventTerminalOutput, TerminalOutput{Output: "hi\n", IsError: true, Done: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != EventTerminalOutput {
		t.Fatalf("event=%q, want %q", env.Event, EventTerminalOutput)
	}
	var out TerminalOutput
	if err := env.Bind(&out); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if out.Output != "hi\n" || !out.IsError || !out.Done {
		t.Fatalf("payload=%+v", out)
	}
}

func TestDecodeClientFrame(t *testing.T) {
	raw := []byte(`{"event":"join","payload":{"roomId":"r1","username":"alice"}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var j Join
	if err := env.Bind(&j); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if j.RoomID != "r1" || j.Username != "alice" {
		t.Fatalf("payload=%+v", j)
	}
}

func TestDecodeMissingEvent(t *testing.T) {
	if _, err := Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("frame without event accepted")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("malformed frame accepted")
	}
}

func TestBindEmptyPayload(t *testing.T) {
	env, err := Decode([]byte(`{"event":"typing"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var ty Typing
	if err := env.Bind(&ty); err != nil {
		t.Fatalf("bind empty payload: %v", err)
	}
	if ty.RoomID != "" {
		t.Fatalf("payload=%+v", ty)
	}
}

func TestTerminalOutputOmitsFlags(t *testing.T) {
	frame, err := Encode(EventTerminalOutput, TerminalOutput{Output: "plain\n"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(frame)
	if strings.Contains(s, "isError") || strings.Contains(s, "done") {
		t.Fatalf("zero flags not omitted: %s", s)
	}
}
