package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/joysync/broadcast"
	"github.com/wfunc/joysync/logger"
	"github.com/wfunc/joysync/models"
	"github.com/wfunc/joysync/monitor"
	"github.com/wfunc/joysync/network"
	"github.com/wfunc/joysync/state"
)

var ErrInvalidRole = errors.New("invalid role")

// Recorder receives the audit record of every closed session.
type Recorder interface {
	RecordSession(ctx context.Context, record *models.SessionRecord) error
}

// Handler 每个连接一个读循环，按消息类型修改 Registry 并触发广播
type Handler struct {
	registry  *state.Registry
	directory *broadcast.Directory
	monitor   *monitor.Monitor
	recorder  Recorder
	heartbeat time.Duration
}

// NewHandler wires the shared registry and directory. mon and recorder may be nil.
func NewHandler(registry *state.Registry, directory *broadcast.Directory, mon *monitor.Monitor, recorder Recorder, heartbeat time.Duration) *Handler {
	return &Handler{
		registry:  registry,
		directory: directory,
		monitor:   mon,
		recorder:  recorder,
		heartbeat: heartbeat,
	}
}

// Serve runs the protocol loop for conn and blocks until the transport
// closes or fails. Cleanup always runs, exactly once.
func (h *Handler) Serve(conn network.Connection) {
	sess := NewSession(conn)
	h.directory.Add(sess.ID, conn)
	h.monitor.ConnectionOpened()
	logger.Log.Infof("New connection from %s, session token: %s", sess.ID, sess.Token)

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("Session %s recovered from panic: %v", sess.ID, r)
		}
		h.Close(sess)
	}()

	conn.SetHeartbeat(h.heartbeat)
	h.sendBaseline(sess)

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, network.ErrUnsupportedFrame) {
				h.malformed(sess, err)
				continue
			}
			if network.IsUnexpectedClose(err) {
				logger.Log.Infof("Error receiving message for %s: %v", sess.ID, err)
			}
			return
		}
		h.HandleMessage(sess, payload)
	}
}

// HandleMessage applies one inbound frame. Malformed input is dropped.
func (h *Handler) HandleMessage(sess *Session, raw []byte) {
	if sess.Role() == RoleClosed {
		return
	}
	sess.messages++

	env, err := network.DecodeEnvelope(raw)
	if err != nil {
		h.malformed(sess, err)
		return
	}
	h.monitor.IncMessagesReceived(metricLabel(env.Type))

	switch env.Type {
	case network.MsgTypeRegister:
		h.handleRegister(sess, env.Data)
	case network.MsgTypeAction:
		h.handleAction(sess, env.Data)
	case network.MsgTypeReadState:
		h.broadcastSnapshot()
	default:
		logger.Log.Warnf("Unknown message type %q from %s", env.Type, sess.ID)
	}
}

func (h *Handler) handleRegister(sess *Session, data json.RawMessage) {
	reg, err := network.DecodeRegister(data)
	if err != nil {
		h.malformed(sess, err)
		return
	}

	switch reg.Role {
	case network.RolePlayer:
		// 重复注册会把状态重置为默认值
		h.registry.Register(sess.ID)
		sess.setRole(RolePlayer)
	case network.RoleViewer:
		if prev := sess.setRole(RoleViewer); prev == RolePlayer {
			h.registry.Unregister(sess.ID)
		}
	default:
		h.malformed(sess, fmt.Errorf("%w: %q", ErrInvalidRole, reg.Role))
		return
	}

	h.monitor.SetOnlinePlayers(h.registry.Len())
	logger.Log.Infof("Session %s registered as %s", sess.ID, reg.Role)
}

func (h *Handler) handleAction(sess *Session, data json.RawMessage) {
	if sess.Role() != RolePlayer {
		logger.Log.Debugf("Ignoring action from %s with role %s", sess.ID, sess.Role())
		return
	}

	next, err := state.ParseAction(data)
	if err != nil {
		h.malformed(sess, err)
		return
	}
	if !h.registry.ApplyAction(sess.ID, next) {
		logger.Log.Debugf("Ignoring action from %s: not in registry", sess.ID)
		return
	}
	sess.actions++
	h.broadcastSnapshot()
}

func (h *Handler) broadcastSnapshot() {
	payload, err := network.EncodeState(h.registry.Snapshot())
	if err != nil {
		logger.Log.Errorf("Failed to encode state: %v", err)
		return
	}
	h.directory.Broadcast(payload)
}

// sendBaseline gives a new connection the current state before its first tick.
func (h *Handler) sendBaseline(sess *Session) {
	payload, err := network.EncodeState(h.registry.Snapshot())
	if err != nil {
		logger.Log.Errorf("Failed to encode state: %v", err)
		return
	}
	if err := h.directory.SendTo(sess.ID, payload); err != nil {
		logger.Log.Debugf("Failed to send initial state to %s: %v", sess.ID, err)
	}
}

func (h *Handler) malformed(sess *Session, err error) {
	sess.malformed++
	h.monitor.IncMalformed()
	logger.Log.Debugf("Dropping malformed message from %s: %v", sess.ID, err)
}

// Close removes the session from the directory and, for players, from the
// registry. Safe to call more than once.
func (h *Handler) Close(sess *Session) {
	sess.closeOnce.Do(func() {
		prev := sess.setRole(RoleClosed)
		h.directory.Remove(sess.ID)
		if prev == RolePlayer {
			h.registry.Unregister(sess.ID)
			h.monitor.SetOnlinePlayers(h.registry.Len())
		}
		_ = sess.Conn.Close()
		h.monitor.ConnectionClosed()
		logger.Log.Infof("Connection closed from %s, session token: %s, role: %s", sess.ID, sess.Token, prev)

		if h.recorder != nil {
			if err := h.recorder.RecordSession(context.Background(), sess.Record(prev)); err != nil {
				logger.Log.Warnf("Session %s audit record dropped: %v", sess.Token, err)
			}
		}
	})
}

func metricLabel(msgType string) string {
	switch msgType {
	case network.MsgTypeRegister, network.MsgTypeAction, network.MsgTypeReadState:
		return msgType
	default:
		return "unknown"
	}
}
