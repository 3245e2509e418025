// Package router authenticates viewer sessions and dispatches their control
// commands to the capture pipelines and system collaborators.
package router

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dvhoang/go-remotedesk/pkg/files"
	"github.com/dvhoang/go-remotedesk/pkg/hub"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
	"github.com/dvhoang/go-remotedesk/pkg/sysops"
)

// defaultRecordSeconds applies when RECORD_SCREEN / RECORD_WEBCAM carry no
// duration.
const defaultRecordSeconds = 30

// ScreenPipeline is the screen surface the router drives.
type ScreenPipeline interface {
	StartStreaming()
	StopStreaming()
	CaptureOnce(quality int, scale float64) ([]byte, error)
	StartRecording(d time.Duration, includeAudio bool) error
	CancelRecording()
}

// WebcamPipeline is the camera surface the router drives.
type WebcamPipeline interface {
	Start() error
	Stop()
	StartRecording(d time.Duration, includeAudio bool) error
	CancelRecording()
}

// LiveAudio is the standalone microphone stream surface.
type LiveAudio interface {
	Start() error
	Stop()
}

// ClipRecorder is the bounded audio clip surface.
type ClipRecorder interface {
	Start(seconds int) error
	Cancel()
}

// SystemOps serves the system inspection commands.
type SystemOps interface {
	SystemInfo() (sysops.Info, error)
	PerformanceStats() (sysops.Perf, error)
	Processes() ([]sysops.Proc, error)
	Kill(pid int32) error
	Apps() ([]sysops.App, error)
	StartApp(path string) error
}

// FileOps serves the file management commands.
type FileOps interface {
	Drives() ([]files.Drive, error)
	List(path string) ([]files.Entry, error)
	ReadBase64(path string) (string, error)
	Write(dir, name, b64 string) error
	Delete(path string) error
	DeleteDir(path string) error
	Rename(path, newName string) error
	CreateDir(dir, name string) error
	Search(root, query string) ([]files.Entry, error)
}

// InputOps injects remote mouse and keyboard events.
type InputOps interface {
	MoveCursor(xPct, yPct float64) error
	Click(button, action string) error
	PressKey(key string) error
}

// EventSender is the hub surface the router replies through.
type EventSender interface {
	SendEvent(s *hub.Session, command string, payload any)
}

// Deps collects the router's collaborators. Nil entries disable their
// commands with a LOG reply instead of a crash.
type Deps struct {
	Screen ScreenPipeline
	Webcam WebcamPipeline
	Live   LiveAudio
	Clip   ClipRecorder
	Sys    SystemOps
	Files  FileOps
	Input  InputOps
}

// Router decodes one control packet at a time from a session's read pump.
type Router struct {
	logger *slog.Logger
	sender EventSender
	otp    []byte
	deps   Deps
}

// quietCommands arrive many times per second; logging each would bury the
// audit trail.
var quietCommands = map[string]bool{
	protocol.CmdGetPerformance: true,
	protocol.CmdMouseMove:      true,
	protocol.CmdGetSysInfo:     true,
	protocol.CmdPing:           true,
}

// New creates the router. otp is the per-run session password.
func New(sender EventSender, otp string, deps Deps, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger,
		sender: sender,
		otp:    []byte(otp),
		deps:   deps,
	}
}

// Handle processes one inbound packet. Malformed JSON drops the packet, not
// the connection.
func (r *Router) Handle(s *hub.Session, data []byte) {
	pkt, err := protocol.ParsePacket(data)
	if err != nil {
		r.logger.Warn("dropping malformed packet", "session", s.ID, "err", err)
		return
	}

	if pkt.Type == protocol.TypeAuth {
		r.handleAuth(s, pkt)
		return
	}
	if !s.Authenticated() {
		r.logger.Warn("command before auth", "session", s.ID, "command", pkt.Command)
		return
	}

	if quietCommands[pkt.Command] {
		r.logger.Debug("command", "session", s.ID, "command", pkt.Command)
	} else {
		r.logger.Info("command", "session", s.ID, "command", pkt.Command, "param", pkt.Param)
	}

	r.dispatch(s, pkt)
}

// handleAuth runs the OTP handshake. The compare is constant-time so reply
// latency leaks nothing about the password.
func (r *Router) handleAuth(s *hub.Session, pkt *protocol.Packet) {
	ok := subtle.ConstantTimeCompare([]byte(pkt.Payload), r.otp) == 1
	s.SetAuthenticated(ok)

	if ok {
		r.logger.Info("viewer authenticated", "session", s.ID)
		r.sender.SendEvent(s, protocol.EvtAuthResult, "OK")
	} else {
		r.logger.Warn("authentication failed", "session", s.ID)
		r.sender.SendEvent(s, protocol.EvtAuthResult, "FAIL")
	}
}

func (r *Router) dispatch(s *hub.Session, pkt *protocol.Packet) {
	switch pkt.Command {
	case protocol.CmdStartStream:
		if r.deps.Screen != nil {
			r.deps.Screen.StartStreaming()
		}
	case protocol.CmdStopStream:
		if r.deps.Screen != nil {
			r.deps.Screen.StopStreaming()
		}
	case protocol.CmdCaptureScreen:
		r.captureScreen(s)
	case protocol.CmdRecordScreen:
		r.recordScreen(s, pkt.Param)
	case protocol.CmdStartWebcam:
		if r.deps.Webcam != nil {
			if err := r.deps.Webcam.Start(); err != nil {
				r.fail(s, "Webcam start failed", err)
			}
		}
	case protocol.CmdStopWebcam:
		if r.deps.Webcam != nil {
			r.deps.Webcam.Stop()
		}
	case protocol.CmdRecordWebcam:
		r.recordWebcam(s, pkt.Param)
	case protocol.CmdStartAudio:
		if r.deps.Live != nil {
			if err := r.deps.Live.Start(); err != nil {
				r.fail(s, "Audio start failed", err)
			}
		}
	case protocol.CmdStopAudio:
		if r.deps.Live != nil {
			r.deps.Live.Stop()
		}
	case protocol.CmdRecordAudio:
		r.recordAudio(s, pkt.Param)
	case protocol.CmdCancelRecord:
		r.cancelRecordings(s)
	case protocol.CmdPing:
		// Echo the param so the viewer can time the round trip.
		r.sender.SendEvent(s, protocol.EvtPong, pkt.Param)

	case protocol.CmdMouseMove:
		r.mouseMove(s, pkt.Param)
	case protocol.CmdMouseClick:
		r.mouseClick(s, pkt.Param)
	case protocol.CmdKeyPress:
		if r.deps.Input != nil {
			if err := r.deps.Input.PressKey(pkt.Param); err != nil {
				r.fail(s, "Key press failed", err)
			}
		}

	case protocol.CmdGetSysInfo:
		r.sysInfo(s)
	case protocol.CmdGetPerformance:
		r.performance(s)
	case protocol.CmdGetProcess:
		r.processes(s)
	case protocol.CmdKill:
		r.kill(s, pkt.Param)
	case protocol.CmdGetApps:
		r.apps(s)
	case protocol.CmdStartApp:
		if r.deps.Sys != nil {
			if err := r.deps.Sys.StartApp(pkt.Param); err != nil {
				r.fail(s, "Application start failed", err)
			} else {
				r.sender.SendEvent(s, protocol.EvtLog, "Application started: "+pkt.Param)
			}
		}

	case protocol.CmdGetDrives:
		r.drives(s)
	case protocol.CmdGetDir:
		r.listDir(s, pkt.Param)
	case protocol.CmdDownloadFile:
		r.download(s, pkt.Param)
	case protocol.CmdUploadFile:
		r.upload(s, pkt.Param)
	case protocol.CmdDeleteFile:
		r.fileOp(s, "Deleted "+pkt.Param, func() error { return r.deps.Files.Delete(pkt.Param) })
	case protocol.CmdDeleteFolder:
		r.fileOp(s, "Deleted "+pkt.Param, func() error { return r.deps.Files.DeleteDir(pkt.Param) })
	case protocol.CmdRenameFile, protocol.CmdRenameFolder:
		r.rename(s, pkt.Param)
	case protocol.CmdCreateFolder:
		r.createFolder(s, pkt.Param)
	case protocol.CmdSearchFile:
		r.search(s, pkt.Param)

	default:
		r.logger.Debug("ignoring unknown command", "session", s.ID, "command", pkt.Command)
	}
}

// fail logs an operation error and reports it to the requesting viewer.
func (r *Router) fail(s *hub.Session, msg string, err error) {
	r.logger.Error(msg, "session", s.ID, "err", err)
	r.sender.SendEvent(s, protocol.EvtLog, fmt.Sprintf("%s: %v", msg, err))
}

func (r *Router) captureScreen(s *hub.Session) {
	if r.deps.Screen == nil {
		return
	}

	full, err := r.deps.Screen.CaptureOnce(90, 1.0)
	if err != nil {
		r.fail(s, "Screen capture failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtScreenshotFile, base64.StdEncoding.EncodeToString(full))

	preview, err := r.deps.Screen.CaptureOnce(40, 0.8)
	if err == nil {
		r.sender.SendEvent(s, protocol.EvtScreenCapture, base64.StdEncoding.EncodeToString(preview))
	}
}

func (r *Router) recordScreen(s *hub.Session, param string) {
	if r.deps.Screen == nil {
		return
	}
	req := protocol.ParseRecordRequest(param, defaultRecordSeconds)
	if err := r.deps.Screen.StartRecording(time.Duration(req.Duration)*time.Second, req.Audio); err != nil {
		r.fail(s, "Screen recording rejected", err)
	}
}

func (r *Router) recordWebcam(s *hub.Session, param string) {
	if r.deps.Webcam == nil {
		return
	}
	req := protocol.ParseRecordRequest(param, defaultRecordSeconds)
	if err := r.deps.Webcam.StartRecording(time.Duration(req.Duration)*time.Second, req.Audio); err != nil {
		r.fail(s, "Webcam recording rejected", err)
	}
}

func (r *Router) recordAudio(s *hub.Session, param string) {
	if r.deps.Clip == nil {
		return
	}
	seconds, _ := strconv.Atoi(param)
	if err := r.deps.Clip.Start(seconds); err != nil {
		r.fail(s, "Audio recording rejected", err)
	}
}

func (r *Router) cancelRecordings(s *hub.Session) {
	if r.deps.Screen != nil {
		r.deps.Screen.CancelRecording()
	}
	if r.deps.Webcam != nil {
		r.deps.Webcam.CancelRecording()
	}
	if r.deps.Clip != nil {
		r.deps.Clip.Cancel()
	}
	r.sender.SendEvent(s, protocol.EvtLog, "Recordings cancelled")
}

func (r *Router) mouseMove(s *hub.Session, param string) {
	if r.deps.Input == nil {
		return
	}
	var pos protocol.MousePos
	if err := json.Unmarshal([]byte(param), &pos); err != nil {
		r.logger.Debug("bad mouse move param", "param", param, "err", err)
		return
	}
	if err := r.deps.Input.MoveCursor(pos.X, pos.Y); err != nil {
		r.logger.Debug("mouse move rejected", "err", err)
	}
}

func (r *Router) mouseClick(s *hub.Session, param string) {
	if r.deps.Input == nil {
		return
	}
	var btn protocol.MouseButton
	if err := json.Unmarshal([]byte(param), &btn); err != nil {
		r.fail(s, "Mouse click failed", err)
		return
	}
	if err := r.deps.Input.Click(btn.Button, btn.Action); err != nil {
		r.fail(s, "Mouse click failed", err)
	}
}

func (r *Router) sysInfo(s *hub.Session) {
	if r.deps.Sys == nil {
		return
	}
	info, err := r.deps.Sys.SystemInfo()
	if err != nil {
		r.fail(s, "System info failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtSysInfo, info)
}

func (r *Router) performance(s *hub.Session) {
	if r.deps.Sys == nil {
		return
	}
	perf, err := r.deps.Sys.PerformanceStats()
	if err != nil {
		r.logger.Debug("performance stats failed", "err", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtPerfStats, perf)
}

func (r *Router) processes(s *hub.Session) {
	if r.deps.Sys == nil {
		return
	}
	procs, err := r.deps.Sys.Processes()
	if err != nil {
		r.fail(s, "Process list failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtProcessList, procs)
}

func (r *Router) kill(s *hub.Session, param string) {
	if r.deps.Sys == nil {
		return
	}
	pid, err := strconv.Atoi(param)
	if err != nil {
		r.fail(s, "Kill failed", fmt.Errorf("bad pid %q", param))
		return
	}
	if err := r.deps.Sys.Kill(int32(pid)); err != nil {
		r.fail(s, "Kill failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtLog, "Process killed: "+param)
}

func (r *Router) apps(s *hub.Session) {
	if r.deps.Sys == nil {
		return
	}
	apps, err := r.deps.Sys.Apps()
	if err != nil {
		r.fail(s, "Application list failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtAppList, apps)
}

func (r *Router) drives(s *hub.Session) {
	if r.deps.Files == nil {
		return
	}
	drives, err := r.deps.Files.Drives()
	if err != nil {
		r.fail(s, "Drive list failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtFileList, drives)
}

func (r *Router) listDir(s *hub.Session, path string) {
	if r.deps.Files == nil {
		return
	}
	entries, err := r.deps.Files.List(path)
	if err != nil {
		r.fail(s, "Directory listing failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtFileList, map[string]any{
		"path":    path,
		"entries": entries,
	})
}

func (r *Router) download(s *hub.Session, path string) {
	if r.deps.Files == nil {
		return
	}
	b64, err := r.deps.Files.ReadBase64(path)
	if err != nil {
		r.fail(s, "Download failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtFileDownload, protocol.FilePayload{
		FileName: path,
		Data:     b64,
	})
}

func (r *Router) upload(s *hub.Session, param string) {
	if r.deps.Files == nil {
		return
	}
	var req protocol.UploadRequest
	if err := json.Unmarshal([]byte(param), &req); err != nil {
		r.fail(s, "Upload failed", err)
		return
	}
	if err := r.deps.Files.Write(req.Path, req.Name, req.Data); err != nil {
		r.fail(s, "Upload failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtLog, "Upload complete: "+req.Name)
}

func (r *Router) rename(s *hub.Session, param string) {
	if r.deps.Files == nil {
		return
	}
	var req protocol.RenameRequest
	if err := json.Unmarshal([]byte(param), &req); err != nil {
		r.fail(s, "Rename failed", err)
		return
	}
	if err := r.deps.Files.Rename(req.Path, req.NewName); err != nil {
		r.fail(s, "Rename failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtLog, "Renamed to "+req.NewName)
}

func (r *Router) createFolder(s *hub.Session, param string) {
	if r.deps.Files == nil {
		return
	}
	var req protocol.FolderRequest
	if err := json.Unmarshal([]byte(param), &req); err != nil {
		r.fail(s, "Create folder failed", err)
		return
	}
	if err := r.deps.Files.CreateDir(req.Path, req.Name); err != nil {
		r.fail(s, "Create folder failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtLog, "Folder created: "+req.Name)
}

func (r *Router) search(s *hub.Session, param string) {
	if r.deps.Files == nil {
		return
	}
	var req protocol.FolderRequest
	if err := json.Unmarshal([]byte(param), &req); err != nil {
		r.fail(s, "Search failed", err)
		return
	}
	results, err := r.deps.Files.Search(req.Path, req.Name)
	if err != nil {
		r.fail(s, "Search failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtFileList, map[string]any{
		"path":    req.Path,
		"query":   req.Name,
		"entries": results,
	})
}

// fileOp runs a parameterless file mutation and reports the outcome.
func (r *Router) fileOp(s *hub.Session, okMsg string, op func() error) {
	if r.deps.Files == nil {
		return
	}
	if err := op(); err != nil {
		r.fail(s, "File operation failed", err)
		return
	}
	r.sender.SendEvent(s, protocol.EvtLog, okMsg)
}
