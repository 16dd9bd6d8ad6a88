package conn

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openmates/core/internal/models"
)

type fakeSocket struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	failNext bool
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		return errWriteFailed
	}
	s.messages = append(s.messages, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var errWriteFailed = writeErr{}

type writeErr struct{}

func (writeErr) Error() string { return "write failed" }

func TestConnectAndGetActiveChat(t *testing.T) {
	m := New(nil, time.Minute)
	key := models.DeviceKey{UserID: uuid.New(), DeviceFingerprint: "device-1"}
	sock := &fakeSocket{}

	m.Connect(key, sock)

	if !m.IsUserActive(key.UserID) {
		t.Error("IsUserActive should be true right after Connect")
	}
	if _, ok := m.GetActiveChat(key); !ok {
		t.Error("GetActiveChat should report ok=true for a connected key")
	}

	chatID := uuid.New()
	if !m.SetActiveChat(key, chatID) {
		t.Fatal("SetActiveChat should succeed for a connected key")
	}
	got, ok := m.GetActiveChat(key)
	if !ok || got == nil || *got != chatID {
		t.Errorf("GetActiveChat = (%v, %v), want (%v, true)", got, ok, chatID)
	}
}

func TestSetActiveChatRejectsUnknownKey(t *testing.T) {
	m := New(nil, time.Minute)
	key := models.DeviceKey{UserID: uuid.New(), DeviceFingerprint: "never-connected"}
	if m.SetActiveChat(key, uuid.New()) {
		t.Error("SetActiveChat should reject a key with no live connection")
	}
}

func TestDisconnectGraceThenExpire(t *testing.T) {
	m := New(nil, 20*time.Millisecond)
	key := models.DeviceKey{UserID: uuid.New(), DeviceFingerprint: "device-1"}
	sock := &fakeSocket{}
	m.Connect(key, sock)

	m.Disconnect(sock)

	// Within the grace window the user is still considered active.
	if !m.IsUserActive(key.UserID) {
		t.Error("IsUserActive should stay true during the grace period")
	}

	time.Sleep(60 * time.Millisecond)
	if m.IsUserActive(key.UserID) {
		t.Error("IsUserActive should be false once the grace period expires")
	}
}

func TestReconnectWithinGraceCancelsExpiry(t *testing.T) {
	m := New(nil, 30*time.Millisecond)
	key := models.DeviceKey{UserID: uuid.New(), DeviceFingerprint: "device-1"}
	sock1 := &fakeSocket{}
	m.Connect(key, sock1)
	m.Disconnect(sock1)

	sock2 := &fakeSocket{}
	m.Connect(key, sock2)

	time.Sleep(60 * time.Millisecond)
	if !m.IsUserActive(key.UserID) {
		t.Error("reconnecting within grace should cancel the pending expiry")
	}
	if _, ok := m.GetActiveChat(key); !ok {
		t.Error("the reconnected key should still be tracked as active")
	}
}

func TestSendPersonalDisconnectsOnWriteFailure(t *testing.T) {
	m := New(nil, 10*time.Millisecond)
	key := models.DeviceKey{UserID: uuid.New(), DeviceFingerprint: "device-1"}
	sock := &fakeSocket{failNext: true}
	m.Connect(key, sock)

	m.SendPersonal(key, []byte("hello"))

	time.Sleep(30 * time.Millisecond)
	if m.IsUserActive(key.UserID) {
		t.Error("a write failure should schedule disconnect and eventually clear the user")
	}
}

func TestBroadcastToUserExcludesDevice(t *testing.T) {
	m := New(nil, time.Minute)
	userID := uuid.New()
	sockA := &fakeSocket{}
	sockB := &fakeSocket{}
	m.Connect(models.DeviceKey{UserID: userID, DeviceFingerprint: "a"}, sockA)
	m.Connect(models.DeviceKey{UserID: userID, DeviceFingerprint: "b"}, sockB)

	m.BroadcastToUser(userID, "a", []byte("payload"))

	sockA.mu.Lock()
	gotA := len(sockA.messages)
	sockA.mu.Unlock()
	sockB.mu.Lock()
	gotB := len(sockB.messages)
	sockB.mu.Unlock()

	if gotA != 0 {
		t.Errorf("excluded device received %d messages, want 0", gotA)
	}
	if gotB != 1 {
		t.Errorf("non-excluded device received %d messages, want 1", gotB)
	}
}
