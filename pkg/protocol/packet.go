package protocol

import (
	"encoding/json"
	"fmt"
)

// TypeAuth is the packet type for the one-time-password handshake. Every
// other packet carries a Command instead.
const TypeAuth = "AUTH"

// Commands accepted by the agent.
const (
	CmdStartStream   = "START_STREAM"
	CmdStopStream    = "STOP_STREAM"
	CmdCaptureScreen = "CAPTURE_SCREEN"
	CmdRecordScreen  = "RECORD_SCREEN"
	CmdStartWebcam   = "START_WEBCAM"
	CmdStopWebcam    = "STOP_WEBCAM"
	CmdRecordWebcam  = "RECORD_WEBCAM"
	CmdStartAudio    = "START_AUDIO"
	CmdStopAudio     = "STOP_AUDIO"
	CmdRecordAudio   = "RECORD_AUDIO"
	CmdCancelRecord  = "CANCEL_RECORD"
	CmdPing          = "PING"

	CmdMouseMove  = "MOUSE_MOVE"
	CmdMouseClick = "MOUSE_CLICK"
	CmdKeyPress   = "KEY_PRESS"

	CmdGetSysInfo     = "GET_SYS_INFO"
	CmdGetPerformance = "GET_PERFORMANCE"
	CmdGetProcess     = "GET_PROCESS"
	CmdKill           = "KILL"
	CmdGetApps        = "GET_APPS"
	CmdStartApp       = "START_APP"

	CmdGetDrives    = "GET_DRIVES"
	CmdGetDir       = "GET_DIR"
	CmdDownloadFile = "DOWNLOAD_FILE"
	CmdUploadFile   = "UPLOAD_FILE"
	CmdDeleteFile   = "DELETE_FILE"
	CmdDeleteFolder = "DELETE_FOLDER"
	CmdRenameFile   = "RENAME_FILE"
	CmdRenameFolder = "RENAME_FOLDER"
	CmdCreateFolder = "CREATE_FOLDER"
	CmdSearchFile   = "SEARCH_FILE"
)

// Events sent to viewers.
const (
	EvtAuthResult       = "AUTH_RESULT"
	EvtLog              = "LOG"
	EvtScreenshotFile   = "SCREENSHOT_FILE"
	EvtScreenCapture    = "SCREEN_CAPTURE"
	EvtScreenRecordFile = "SCREEN_RECORD_FILE"
	EvtVideoFile        = "VIDEO_FILE"
	EvtAudioRecordFile  = "AUDIO_RECORD_FILE"
	EvtSysInfo          = "SYS_INFO"
	EvtPerfStats        = "PERF_STATS"
	EvtProcessList      = "PROCESS_LIST"
	EvtAppList          = "APP_LIST"
	EvtFileList         = "FILE_LIST"
	EvtFileDownload     = "FILE_DOWNLOAD_DATA"
	EvtPong             = "PONG"
)

// Packet is an inbound control message from a viewer.
type Packet struct {
	Type    string `json:"type,omitempty"`
	Command string `json:"command,omitempty"`
	Param   string `json:"param,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// ParsePacket parses a JSON control packet.
func ParsePacket(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse packet: %w", err)
	}
	return &p, nil
}

// Event is an outbound control message to viewers. Payload is either a plain
// string (logs, base64 file content) or nested JSON produced by EncodeEvent.
type Event struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent builds the JSON bytes for an event. Strings are carried as-is;
// anything else is marshalled into the payload.
func EncodeEvent(command string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", command, err)
	}
	return json.Marshal(Event{Command: command, Payload: raw})
}

// MousePos is the MOUSE_MOVE parameter: cursor position as a fraction of the
// remote screen (0.0 to 1.0 on both axes).
type MousePos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MouseButton is the MOUSE_CLICK parameter.
type MouseButton struct {
	Button string `json:"btn"`    // "left", "right", "middle"
	Action string `json:"action"` // "down", "up", "click"
}

// RecordRequest is the RECORD_WEBCAM / RECORD_SCREEN parameter. Older viewers
// send a bare integer instead; ParseRecordRequest accepts both.
type RecordRequest struct {
	Duration int  `json:"duration"`
	Audio    bool `json:"audio"`
}

// ParseRecordRequest decodes a record parameter, falling back to a bare
// seconds value for the legacy format. defaultSeconds applies when the param
// is empty or unparseable.
func ParseRecordRequest(param string, defaultSeconds int) RecordRequest {
	req := RecordRequest{Duration: defaultSeconds}
	if param == "" {
		return req
	}
	if err := json.Unmarshal([]byte(param), &req); err == nil && req.Duration > 0 {
		return req
	}
	var secs int
	if err := json.Unmarshal([]byte(param), &secs); err == nil && secs > 0 {
		req.Duration = secs
		req.Audio = false
	}
	if req.Duration <= 0 {
		req.Duration = defaultSeconds
	}
	return req
}

// FolderRequest is the CREATE_FOLDER parameter.
type FolderRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// RenameRequest is the RENAME_FILE / RENAME_FOLDER parameter.
type RenameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

// UploadRequest is the UPLOAD_FILE parameter. Data is base64.
type UploadRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// FilePayload is the FILE_DOWNLOAD_DATA event payload.
type FilePayload struct {
	FileName string `json:"fileName"`
	Data     string `json:"data"` // base64
}
