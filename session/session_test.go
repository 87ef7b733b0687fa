package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/joysync/broadcast"
	"github.com/wfunc/joysync/models"
	"github.com/wfunc/joysync/network"
	"github.com/wfunc/joysync/state"
)

type frame struct {
	data []byte
	err  error
}

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	addr      net.Addr
	inbound   chan frame
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sent     [][]byte
	failSend bool
}

func newMockConnection(port int) *MockConnection {
	return &MockConnection{
		addr:    &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		inbound: make(chan frame, 16),
		done:    make(chan struct{}),
	}
}

func (m *MockConnection) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return errors.New("write: broken pipe")
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *MockConnection) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-m.inbound:
		if !ok {
			return nil, io.EOF
		}
		return f.data, f.err
	case <-m.done:
		return nil, net.ErrClosed
	}
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MockConnection) RemoteAddr() net.Addr               { return m.addr }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}

func (m *MockConnection) push(s string) { m.inbound <- frame{data: []byte(s)} }

func (m *MockConnection) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *MockConnection) lastState(t *testing.T) state.Snapshot {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no frames sent to connection")
	}
	var env struct {
		Type string         `json:"type"`
		Data state.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(m.sent[len(m.sent)-1], &env); err != nil {
		t.Fatalf("sent frame is not json: %v", err)
	}
	if env.Type != network.MsgTypeState {
		t.Fatalf("Expected state envelope, got %s", env.Type)
	}
	return env.Data
}

func (m *MockConnection) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// MockRecorder is a test double for the Recorder interface.
type MockRecorder struct {
	records chan *models.SessionRecord
}

func (m *MockRecorder) RecordSession(ctx context.Context, record *models.SessionRecord) error {
	m.records <- record
	return nil
}

type fixture struct {
	registry  *state.Registry
	directory *broadcast.Directory
	handler   *Handler
}

func newFixture() *fixture {
	f := &fixture{
		registry:  state.NewRegistry(),
		directory: broadcast.NewDirectory(),
	}
	f.handler = NewHandler(f.registry, f.directory, nil, nil, 0)
	return f
}

// attach registers a connection with the directory the way Serve does.
func (f *fixture) attach(conn *MockConnection) *Session {
	sess := NewSession(conn)
	f.directory.Add(sess.ID, conn)
	return sess
}

const (
	registerPlayer = `{"type":"register","data":{"role":"player"}}`
	registerViewer = `{"type":"register","data":{"role":"viewer"}}`
	outOfRange     = `{"type":"action","data":{"joystick":{"x":2.0,"y":-2.0},"buttons":{"a":true,"b":false,"x":false,"y":false}}}`
	readState      = `{"type":"readstate","data":null}`
)

func TestNewSession(t *testing.T) {
	sess := NewSession(newMockConnection(5001))
	if sess.GetID() != "127.0.0.1:5001" {
		t.Errorf("Expected id derived from remote address, got %s", sess.GetID())
	}
	if sess.Token == "" {
		t.Error("Expected a session token")
	}
	if sess.Role() != RoleUnregistered {
		t.Errorf("Expected unregistered role, got %s", sess.Role())
	}
	if other := NewSession(newMockConnection(5001)); other.Token == sess.Token {
		t.Error("Tokens should be unique per session")
	}
}

func TestHandler_RegisterPlayer(t *testing.T) {
	f := newFixture()
	sess := f.attach(newMockConnection(5001))

	f.handler.HandleMessage(sess, []byte(registerPlayer))

	if sess.Role() != RolePlayer {
		t.Fatalf("Expected player role, got %s", sess.Role())
	}
	got, ok := f.registry.Get(sess.ID)
	if !ok {
		t.Fatal("Expected a registry entry for the player")
	}
	if got != state.NewPlayerState() {
		t.Errorf("Expected default state, got %+v", got)
	}
}

func TestHandler_PlayerActionClampsAndBroadcasts(t *testing.T) {
	f := newFixture()
	playerConn := newMockConnection(5001)
	viewerConn := newMockConnection(5002)
	player := f.attach(playerConn)
	viewer := f.attach(viewerConn)

	f.handler.HandleMessage(player, []byte(registerPlayer))
	f.handler.HandleMessage(viewer, []byte(registerViewer))
	f.handler.HandleMessage(player, []byte(outOfRange))

	for _, conn := range []*MockConnection{playerConn, viewerConn} {
		snap := conn.lastState(t)
		p1, ok := snap[player.ID]
		if !ok {
			t.Fatalf("Broadcast should include the player, got %v", snap)
		}
		if p1.Joystick.X != 1.0 || p1.Joystick.Y != -1.0 || !p1.Buttons.A {
			t.Errorf("Unexpected broadcast entry: %+v", p1)
		}
		if _, ok := snap[viewer.ID]; ok {
			t.Error("Viewer must not appear in the snapshot")
		}
	}
	if player.actions != 1 {
		t.Errorf("Expected 1 applied action, got %d", player.actions)
	}
}

func TestHandler_ViewerActionIgnored(t *testing.T) {
	f := newFixture()
	conn := newMockConnection(5002)
	viewer := f.attach(conn)

	f.handler.HandleMessage(viewer, []byte(registerViewer))
	f.handler.HandleMessage(viewer, []byte(outOfRange))

	if _, ok := f.registry.Get(viewer.ID); ok {
		t.Fatal("Viewer action must not create a registry entry")
	}
	if f.registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d entries", f.registry.Len())
	}
	if conn.sentCount() != 0 {
		t.Error("Ignored action must not broadcast")
	}
}

func TestHandler_UnregisteredActionIgnored(t *testing.T) {
	f := newFixture()
	sess := f.attach(newMockConnection(5003))

	f.handler.HandleMessage(sess, []byte(outOfRange))

	if f.registry.Len() != 0 {
		t.Error("Action before register must not create a registry entry")
	}
	if sess.Role() != RoleUnregistered {
		t.Errorf("Expected unregistered role, got %s", sess.Role())
	}
}

func TestHandler_PlayerBecomesViewer(t *testing.T) {
	f := newFixture()
	sess := f.attach(newMockConnection(5001))

	f.handler.HandleMessage(sess, []byte(registerPlayer))
	f.handler.HandleMessage(sess, []byte(registerViewer))

	if sess.Role() != RoleViewer {
		t.Fatalf("Expected viewer role, got %s", sess.Role())
	}
	if _, ok := f.registry.Get(sess.ID); ok {
		t.Error("Switching to viewer should drop the registry entry")
	}
}

func TestHandler_ReRegisterResetsState(t *testing.T) {
	f := newFixture()
	sess := f.attach(newMockConnection(5001))

	f.handler.HandleMessage(sess, []byte(registerPlayer))
	f.handler.HandleMessage(sess, []byte(outOfRange))
	f.handler.HandleMessage(sess, []byte(registerPlayer))

	got, _ := f.registry.Get(sess.ID)
	if got != state.NewPlayerState() {
		t.Errorf("Expected register to reset the player, got %+v", got)
	}
}

func TestHandler_ReadStateFromViewer(t *testing.T) {
	f := newFixture()
	playerConn := newMockConnection(5001)
	viewerConn := newMockConnection(5002)
	player := f.attach(playerConn)
	viewer := f.attach(viewerConn)
	f.handler.HandleMessage(player, []byte(registerPlayer))
	f.handler.HandleMessage(viewer, []byte(registerViewer))

	f.handler.HandleMessage(viewer, []byte(readState))

	snap := viewerConn.lastState(t)
	if len(snap) != 1 {
		t.Fatalf("Expected exactly the player in the snapshot, got %v", snap)
	}
	if _, ok := snap[viewer.ID]; ok {
		t.Error("Viewer must not appear in its own readstate reply")
	}
	if playerConn.sentCount() != 1 {
		t.Errorf("readstate should broadcast to every connection, player got %d frames", playerConn.sentCount())
	}
}

func TestHandler_ReadStateEmptyRegistry(t *testing.T) {
	f := newFixture()
	conn := newMockConnection(5002)
	viewer := f.attach(conn)

	f.handler.HandleMessage(viewer, []byte(readState))

	if snap := conn.lastState(t); len(snap) != 0 {
		t.Errorf("Expected empty mapping, got %v", snap)
	}
}

func TestHandler_MalformedMessagesDropped(t *testing.T) {
	f := newFixture()
	conn := newMockConnection(5001)
	sess := f.attach(conn)
	f.handler.HandleMessage(sess, []byte(registerPlayer))
	f.handler.HandleMessage(sess, []byte(`{"type":"action","data":{"joystick":{"x":0.5,"y":0.5},"buttons":{"a":true,"b":true,"x":true,"y":true}}}`))
	before, _ := f.registry.Get(sess.ID)
	sentBefore := conn.sentCount()

	bad := []string{
		`not json`,
		`{"data":{}}`,
		`{"type":"action","data":null}`,
		`{"type":"action","data":{"joystick":{"x":1}}}`,
		`{"type":"action","data":"fast"}`,
		`{"type":"register","data":{"role":"admin"}}`,
		`{"type":"register","data":7}`,
		`{"TYPE":"register","DATA":{"ROLE":"player"}}`,
		`{"type":"register","data":{"ROLE":"viewer"}}`,
		`{"type":"register","Data":{"role":"viewer"}}`,
		`{"type":"action","data":{"Joystick":{"X":0.3,"Y":0.1},"Buttons":{"A":false,"B":false,"X":false,"Y":false}}}`,
		`{"type":"action","data":{"joystick":{"x":0.3,"Y":0.1},"buttons":{"a":false,"b":false,"x":false,"y":false}}}`,
	}
	for _, msg := range bad {
		f.handler.HandleMessage(sess, []byte(msg))
	}

	after, _ := f.registry.Get(sess.ID)
	if after != before {
		t.Errorf("Malformed messages must not change state: before %+v after %+v", before, after)
	}
	if sess.Role() != RolePlayer {
		t.Errorf("Malformed register must not change role, got %s", sess.Role())
	}
	if conn.sentCount() != sentBefore {
		t.Error("Malformed messages must not trigger a broadcast")
	}
	if sess.malformed != int64(len(bad)) {
		t.Errorf("Expected %d malformed messages counted, got %d", len(bad), sess.malformed)
	}
}

func TestHandler_UnknownTypeIgnored(t *testing.T) {
	f := newFixture()
	conn := newMockConnection(5001)
	sess := f.attach(conn)

	f.handler.HandleMessage(sess, []byte(`{"type":"jump","data":{"height":3}}`))

	if conn.sentCount() != 0 {
		t.Error("Unknown types must not produce a reply")
	}
	if sess.Role() != RoleUnregistered {
		t.Errorf("Unknown types must not change role, got %s", sess.Role())
	}
	if sess.malformed != 0 {
		t.Error("A well-formed envelope of unknown type is not malformed")
	}
}

func TestHandler_CloseIsIdempotent(t *testing.T) {
	f := newFixture()
	conn := newMockConnection(5001)
	sess := f.attach(conn)
	f.handler.HandleMessage(sess, []byte(registerPlayer))

	f.handler.Close(sess)
	f.handler.Close(sess)

	if f.directory.Len() != 0 {
		t.Error("Close should remove the connection from the directory")
	}
	if f.registry.Len() != 0 {
		t.Error("Close should remove the player from the registry")
	}
	if !conn.isClosed() {
		t.Error("Close should close the transport")
	}
	if sess.Role() != RoleClosed {
		t.Errorf("Expected closed role, got %s", sess.Role())
	}

	// messages racing the close are ignored
	f.handler.HandleMessage(sess, []byte(registerPlayer))
	if f.registry.Len() != 0 {
		t.Error("A closed session must not register again")
	}
}

func TestHandler_Serve_Lifecycle(t *testing.T) {
	registry := state.NewRegistry()
	directory := broadcast.NewDirectory()
	recorder := &MockRecorder{records: make(chan *models.SessionRecord, 1)}
	h := NewHandler(registry, directory, nil, recorder, 0)

	conn := newMockConnection(5001)
	done := make(chan struct{})
	go func() {
		h.Serve(conn)
		close(done)
	}()

	conn.push(registerPlayer)
	conn.inbound <- frame{err: network.ErrUnsupportedFrame}
	conn.push(outOfRange)
	conn.push(`garbage`)
	close(conn.inbound)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the transport closed")
	}

	if directory.Len() != 0 {
		t.Error("Serve should remove its connection from the directory on exit")
	}
	if registry.Len() != 0 {
		t.Error("Serve should remove its player from the registry on exit")
	}

	// baseline + one broadcast for the applied action
	if conn.sentCount() != 2 {
		t.Errorf("Expected 2 frames (baseline and action broadcast), got %d", conn.sentCount())
	}
	if p := conn.lastState(t)["127.0.0.1:5001"]; p.Joystick.X != 1 || p.Joystick.Y != -1 {
		t.Errorf("Expected clamped state in the action broadcast, got %+v", p)
	}

	select {
	case rec := <-recorder.records:
		if rec.ConnID != "127.0.0.1:5001" || rec.Role != "player" {
			t.Errorf("Unexpected audit record: %+v", rec)
		}
		if rec.MessagesReceived != 3 || rec.MalformedMessages != 2 || rec.ActionsApplied != 1 {
			t.Errorf("Unexpected counters: %+v", rec)
		}
	default:
		t.Error("Expected an audit record on close")
	}
}

func TestHandler_Serve_SendFailureEndsSession(t *testing.T) {
	registry := state.NewRegistry()
	directory := broadcast.NewDirectory()
	h := NewHandler(registry, directory, nil, nil, 0)

	healthy := newMockConnection(5001)
	broken := newMockConnection(5002)

	doneHealthy := make(chan struct{})
	doneBroken := make(chan struct{})
	go func() { h.Serve(healthy); close(doneHealthy) }()
	go func() { h.Serve(broken); close(doneBroken) }()

	healthy.push(registerPlayer)
	broken.push(registerPlayer)

	waitFor(t, func() bool { return registry.Len() == 2 })

	broken.mu.Lock()
	broken.failSend = true
	broken.mu.Unlock()

	healthy.push(outOfRange)

	// the failed send evicts and closes the broken connection, whose read
	// loop then exits and runs the normal cleanup
	select {
	case <-doneBroken:
	case <-time.After(2 * time.Second):
		t.Fatal("Broken session did not terminate after a failed send")
	}
	waitFor(t, func() bool { return registry.Len() == 1 })
	if _, ok := registry.Get("127.0.0.1:5002"); ok {
		t.Error("Broken player should leave the registry")
	}
	if directory.Len() != 1 {
		t.Errorf("Expected only the healthy connection left, got %d", directory.Len())
	}

	close(healthy.inbound)
	<-doneHealthy
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
