// Package conn implements the Connection Manager (§4.1): per-(user,device)
// WebSocket tracking with reconnection grace, active-chat-per-connection
// state, and best-effort fan-out. Grounded on
// cmd/messaging-service/internal/models/hub.go's Hub/Register/unregister
// shape, reworked from room-keyed to (user,device)-keyed maps per
// original_source/.../connection_manager.py, and on
// cmd/notification-service's per-member-failure-tolerant broadcast.
//
// The cyclic reference the teacher's Hub has with its caller (runner needs
// to broadcast, hub needs to know when a task starts) is replaced here with
// a Redis pub/sub channel per user: the Task Runner publishes outbound
// events without importing this package, and Manager subscribes and fans
// out to local sockets (§9 redesign note).
package conn

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/openmates/core/internal/models"
)

var logger = log.New(os.Stdout, "[conn] ", log.LstdFlags)

// Socket is the minimal send surface a connection needs; gorilla's
// *websocket.Conn satisfies it directly, tests can fake it.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type entry struct {
	socket     Socket
	activeChat *uuid.UUID
}

// Manager holds every live connection for the process. Per §5, the
// durable/caching stores are the shared source of truth across processes;
// connection state itself is process-local, so Manager is safe as a single
// in-memory struct guarded by one mutex.
type Manager struct {
	mu          sync.RWMutex
	active      map[models.DeviceKey]*entry
	reverse     map[Socket]models.DeviceKey
	graceTimers map[models.DeviceKey]*time.Timer
	graceDur    time.Duration

	rdb      *redis.Client
	cancel   context.CancelFunc
	subUsers map[uuid.UUID]context.CancelFunc
	subMu    sync.Mutex
}

func New(rdb *redis.Client, graceDur time.Duration) *Manager {
	return &Manager{
		active:      make(map[models.DeviceKey]*entry),
		reverse:     make(map[Socket]models.DeviceKey),
		graceTimers: make(map[models.DeviceKey]*time.Timer),
		graceDur:    graceDur,
		rdb:         rdb,
		subUsers:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// OutboundEvent is what the Task Runner (or any other publisher) sends
// through the per-user channel; Manager fans it out to every live device
// of that user, optionally excluding one.
type OutboundEvent struct {
	UserID            uuid.UUID `json:"user_id"`
	ExcludeDeviceHash string    `json:"exclude_device_hash,omitempty"`
	Payload           json.RawMessage `json:"payload"`
}

func userChannel(userID uuid.UUID) string { return "conn:events:" + userID.String() }

// Publish is how other components (the Task Runner, the WS Router) reach
// every device of a user without importing Manager directly — it never
// blocks on Manager's internal mutex.
func Publish(ctx context.Context, rdb *redis.Client, userID uuid.UUID, excludeDeviceHash string, payload []byte) error {
	if rdb == nil {
		return nil
	}
	raw, err := json.Marshal(OutboundEvent{UserID: userID, ExcludeDeviceHash: excludeDeviceHash, Payload: payload})
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, userChannel(userID), raw).Err()
}

// Connect registers a newly accepted socket. A pending grace timer for the
// same key is cancelled (reconnection within grace); active_chat is
// preserved for existing keys, initialised to none for brand-new ones.
func (m *Manager) Connect(key models.DeviceKey, sock Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.graceTimers[key]; ok {
		timer.Stop()
		delete(m.graceTimers, key)
	}

	if prev, ok := m.active[key]; ok {
		delete(m.reverse, prev.socket)
		prev.socket = sock
		m.reverse[sock] = key
	} else {
		m.active[key] = &entry{socket: sock}
		m.reverse[sock] = key
	}

	m.ensureSubscribed(key.UserID)
}

// Disconnect does not immediately remove state; it schedules a grace-period
// timer. If the timer fires without a reconnect for the same socket
// identity, state is removed; if a newer socket has taken over, only the
// stale reverse-lookup entry is cleared.
func (m *Manager) Disconnect(sock Socket) {
	m.mu.Lock()
	key, ok := m.reverse[sock]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.reverse, sock)

	timer := time.AfterFunc(m.graceDur, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.graceTimers, key)
		if e, ok := m.active[key]; ok && e.socket == sock {
			delete(m.active, key)
		}
	})
	m.graceTimers[key] = timer
	m.mu.Unlock()
}

// IsUserActive reports whether the user has a live socket or a pending
// (not-yet-fired) grace timer on any device.
func (m *Manager) IsUserActive(userID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key := range m.active {
		if key.UserID == userID {
			return true
		}
	}
	for key := range m.graceTimers {
		if key.UserID == userID {
			return true
		}
	}
	return false
}

// GetActiveChat returns the connection's active chat, permitted whenever
// the key has a live socket or is within its grace period.
func (m *Manager) GetActiveChat(key models.DeviceKey) (*uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.active[key]
	if !ok {
		return nil, false
	}
	return e.activeChat, true
}

// SetActiveChat rejects silently (returns false) unless the key has a live
// socket or is within grace.
func (m *Manager) SetActiveChat(key models.DeviceKey, chatID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[key]
	if !ok {
		return false
	}
	e.activeChat = &chatID
	return true
}

// SendPersonal sends to exactly one device; a send error schedules that
// device's disconnect but never propagates to the caller (§4.1 failure
// semantics).
func (m *Manager) SendPersonal(key models.DeviceKey, data []byte) {
	m.mu.RLock()
	e, ok := m.active[key]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if err := e.socket.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Printf("send to %s/%s failed, disconnecting: %v", key.UserID, key.DeviceFingerprint, err)
		m.Disconnect(e.socket)
	}
}

// BroadcastToUser sends to every one of a user's live devices concurrently;
// per-device failures disconnect only that device and never fail siblings.
func (m *Manager) BroadcastToUser(userID uuid.UUID, excludeDeviceHash string, data []byte) {
	m.mu.RLock()
	var targets []models.DeviceKey
	for key := range m.active {
		if key.UserID == userID && key.DeviceFingerprint != excludeDeviceHash {
			targets = append(targets, key)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, key := range targets {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.SendPersonal(key, data)
		}()
	}
	wg.Wait()
}

// ensureSubscribed lazily starts a Redis subscription for this user's
// channel the first time a device connects, fanning out published events
// to local devices. Only one subscriber goroutine runs per user per
// process.
func (m *Manager) ensureSubscribed(userID uuid.UUID) {
	if m.rdb == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subUsers[userID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.subUsers[userID] = cancel

	pubsub := m.rdb.Subscribe(ctx, userChannel(userID))
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt OutboundEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				m.BroadcastToUser(evt.UserID, evt.ExcludeDeviceHash, evt.Payload)
			}
		}
	}()
}
