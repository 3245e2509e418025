package protocol

import (
	"encoding/json"
	"testing"
)

func TestParsePacket_Auth(t *testing.T) {
	p, err := ParsePacket([]byte(`{"type":"AUTH","payload":"123456"}`))
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if p.Type != TypeAuth {
		t.Errorf("Type = %q, want AUTH", p.Type)
	}
	if p.Payload != "123456" {
		t.Errorf("Payload = %q", p.Payload)
	}
}

func TestParsePacket_Malformed(t *testing.T) {
	if _, err := ParsePacket([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseRecordRequest(t *testing.T) {
	cases := []struct {
		name  string
		param string
		want  RecordRequest
	}{
		{"json with audio", `{"duration":15,"audio":true}`, RecordRequest{Duration: 15, Audio: true}},
		{"json without audio", `{"duration":5}`, RecordRequest{Duration: 5}},
		{"legacy bare seconds", `20`, RecordRequest{Duration: 20}},
		{"empty falls back", ``, RecordRequest{Duration: 10}},
		{"garbage falls back", `what`, RecordRequest{Duration: 10}},
		{"zero duration falls back", `{"duration":0}`, RecordRequest{Duration: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseRecordRequest(tc.param, 10)
			if got != tc.want {
				t.Errorf("ParseRecordRequest(%q) = %+v, want %+v", tc.param, got, tc.want)
			}
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	data, err := EncodeEvent(EvtLog, "stream started")
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.Command != EvtLog {
		t.Errorf("Command = %q", evt.Command)
	}
	var msg string
	if err := json.Unmarshal(evt.Payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg != "stream started" {
		t.Errorf("payload = %q", msg)
	}
}

func TestEncodeEvent_StructPayload(t *testing.T) {
	data, err := EncodeEvent(EvtFileDownload, FilePayload{FileName: "a.txt", Data: "aGk="})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	var fp FilePayload
	if err := json.Unmarshal(evt.Payload, &fp); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if fp.FileName != "a.txt" || fp.Data != "aGk=" {
		t.Errorf("payload = %+v", fp)
	}
}
