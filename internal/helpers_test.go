package internal_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-buzzer-room/internal"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvent struct {
	room  string
	event internal.Event
}

// recorder 記錄所有廣播的 Broadcaster
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
	subs   map[string][]string
}

func newRecorder() *recorder {
	return &recorder{subs: make(map[string][]string)}
}

func (r *recorder) Subscribe(roomCode, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[roomCode] = append(r.subs[roomCode], connID)
}

func (r *recorder) Publish(roomCode string, event internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{room: roomCode, event: event})
}

func (r *recorder) CloseRoom(roomCode string, event internal.Event) {
	r.Publish(roomCode, event)
}

// Count 房間收到的事件數
func (r *recorder) Count(roomCode string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.room == roomCode {
			n++
		}
	}
	return n
}

// Last 房間收到的最後一個事件
func (r *recorder) Last(t *testing.T, roomCode string) internal.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].room == roomCode {
			return r.events[i].event
		}
	}
	require.FailNow(t, "房間沒有任何事件", roomCode)
	return internal.Event{}
}

// LastSnapshot 房間最後一次廣播的狀態
func (r *recorder) LastSnapshot(t *testing.T, roomCode string) internal.Snapshot {
	t.Helper()
	ev := r.Last(t, roomCode)
	require.Equal(t, internal.EventRoomStateUpdate, ev.Type)
	snap, ok := ev.Data.(internal.Snapshot)
	require.True(t, ok, "事件資料應為 Snapshot")
	return snap
}

func (r *recorder) Subscribers(roomCode string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subs[roomCode]...)
}

// testEnv 測試環境：註冊表 + 廣播記錄 + 假時鐘
type testEnv struct {
	manager  *internal.Manager
	recorder *recorder
	clock    *fakeClock
}

func newTestEnv(cooldown time.Duration) *testEnv {
	clock := newFakeClock()
	rec := newRecorder()
	cfg := internal.RoomConfig{
		ReopenCooldown: cooldown,
		Now:            clock.Now,
	}
	return &testEnv{
		manager:  internal.NewManager(cfg, rec, testLogger()),
		recorder: rec,
		clock:    clock,
	}
}

// setupRoom 創建房間並加入參賽者，回傳房間與各參賽者的 participantID
func (env *testEnv) setupRoom(t *testing.T, contestants ...string) (*internal.Room, map[string]string) {
	t.Helper()
	room, err := env.manager.CreateRoom("host-conn")
	require.NoError(t, err)

	ids := make(map[string]string)
	for _, name := range contestants {
		_, p, err := env.manager.JoinRoom(room.Code, "conn-"+name, name)
		require.NoError(t, err)
		ids[name] = p.ParticipantID
	}
	return room, ids
}

func (env *testEnv) update(t *testing.T, room *internal.Room, u internal.RoomUpdate) {
	t.Helper()
	require.NoError(t, room.ApplyUpdate(room.HostConn, u))
}

func (env *testEnv) open(t *testing.T, room *internal.Room, status internal.BellStatus) {
	t.Helper()
	env.update(t, room, internal.RoomUpdate{BellStatus: &status})
}

func (env *testEnv) setOptions(t *testing.T, room *internal.Room, count internal.BuzzCount, mode internal.BuzzMode) {
	t.Helper()
	env.update(t, room, internal.RoomUpdate{Options: &internal.OptionsPatch{BuzzCount: &count, BuzzMode: &mode}})
}

func buzzAs(room *internal.Room, name string) error {
	return room.ApplyBuzz("conn-"+name, internal.BuzzRequest{
		DisplayName:   name,
		BellSessionID: room.Snapshot().BellSessionID,
	})
}

func ptr[T any](v T) *T {
	return &v
}
