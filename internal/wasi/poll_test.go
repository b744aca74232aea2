package wasi

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// clockSubscription encodes a subscription to a clock: the userdata, the clock tag, then the clock id, timeout and
// flags.
func clockSubscription(userdata uint64, id uint32, timeout uint64, flags uint16) []byte {
	b := make([]byte, subscriptionLen)
	binary.LittleEndian.PutUint64(b, userdata)
	b[8] = eventTypeClock
	binary.LittleEndian.PutUint32(b[16:], id)
	binary.LittleEndian.PutUint64(b[24:], timeout)
	binary.LittleEndian.PutUint16(b[40:], flags)
	return b
}

func fdSubscription(userdata uint64, eventType uint8, fd uint32) []byte {
	b := make([]byte, subscriptionLen)
	binary.LittleEndian.PutUint64(b, userdata)
	b[8] = eventType
	binary.LittleEndian.PutUint32(b[16:], fd)
	return b
}

// pollMemory returns memory holding the subscriptions at offset 0, with room for their events at offset 160 and the
// event count at offset 256.
func pollMemory(subscriptions ...[]byte) (*wasm.MemoryInstance, []uint64) {
	mem := maskedMemory(260)
	var offset int
	for _, sub := range subscriptions {
		offset += copy(mem.Buffer[offset:], sub)
	}
	return mem, []uint64{0, 160, uint64(len(subscriptions)), 256}
}

func readEvents(mem *wasm.MemoryInstance) []pollEvent {
	events := []pollEvent{}
	for i := uint32(0); i < binary.LittleEndian.Uint32(mem.Buffer[256:]); i++ {
		b := mem.Buffer[160+i*eventLen:]
		events = append(events, pollEvent{
			userdata:  binary.LittleEndian.Uint64(b),
			errno:     Errno(binary.LittleEndian.Uint16(b[8:])),
			eventType: b[10],
		})
	}
	return events
}

func TestPollOneoff(t *testing.T) {
	tests := []struct {
		name           string
		subscriptions  [][]byte
		expectedSleeps []int64
		expectedEvents []pollEvent
	}{
		{
			name:           "relative clock",
			subscriptions:  [][]byte{clockSubscription(1, clockIDMonotonic, 100, 0)},
			expectedSleeps: []int64{100},
			expectedEvents: []pollEvent{{userdata: 1, eventType: eventTypeClock}},
		},
		{
			name: "earliest of two clocks",
			subscriptions: [][]byte{
				clockSubscription(1, clockIDMonotonic, 300, 0),
				clockSubscription(2, clockIDRealtime, 100, 0),
			},
			expectedSleeps: []int64{100},
			expectedEvents: []pollEvent{{userdata: 2, eventType: eventTypeClock}},
		},
		{
			name:           "absolute monotonic clock",
			subscriptions:  [][]byte{clockSubscription(1, clockIDMonotonic, 800, subclockflagAbstime)},
			expectedSleeps: []int64{300},
			expectedEvents: []pollEvent{{userdata: 1, eventType: eventTypeClock}},
		},
		{
			name:           "absolute realtime clock already passed",
			subscriptions:  [][]byte{clockSubscription(1, clockIDRealtime, 10, subclockflagAbstime)},
			expectedSleeps: []int64{0},
			expectedEvents: []pollEvent{{userdata: 1, eventType: eventTypeClock}},
		},
		{
			name: "fd is ready without sleeping",
			subscriptions: [][]byte{
				clockSubscription(1, clockIDMonotonic, 100, 0),
				fdSubscription(2, eventTypeFdRead, fdStdin),
			},
			expectedEvents: []pollEvent{{userdata: 2, eventType: eventTypeFdRead}},
		},
		{
			name:           "unknown fd",
			subscriptions:  [][]byte{fdSubscription(3, eventTypeFdWrite, 42)},
			expectedEvents: []pollEvent{{userdata: 3, eventType: eventTypeFdWrite, errno: ErrnoBadf}},
		},
		{
			name:           "cpu time clock",
			subscriptions:  [][]byte{clockSubscription(4, clockIDProcessCputime, 100, 0)},
			expectedEvents: []pollEvent{{userdata: 4, eventType: eventTypeClock, errno: ErrnoNotsup}},
		},
		{
			name:           "invalid clock flags",
			subscriptions:  [][]byte{clockSubscription(5, clockIDMonotonic, 100, 2)},
			expectedEvents: []pollEvent{{userdata: 5, eventType: eventTypeClock, errno: ErrnoInval}},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			var sleeps []int64
			e := NewEnvironment(Config{
				Walltime: func() time.Time { return time.Unix(0, 1000) },
				Nanotime: func() int64 { return 500 },
				Nanosleep: func(_ context.Context, ns int64) error {
					sleeps = append(sleeps, ns)
					return nil
				},
			})

			mem, params := pollMemory(tc.subscriptions...)
			require.Equal(t, ErrnoSuccess, e.poll(testCtx, mem, params))
			require.Equal(t, tc.expectedSleeps, sleeps)
			require.Equal(t, tc.expectedEvents, readEvents(mem))
		})
	}
}

func TestPollOneoff_Errors(t *testing.T) {
	e := NewEnvironment(Config{Nanosleep: func(context.Context, int64) error { return context.Canceled }})
	sub := clockSubscription(1, clockIDMonotonic, 100, 0)

	tests := []struct {
		name          string
		params        func([]uint64)
		subscription  []byte
		expectedErrno Errno
	}{
		{name: "no subscriptions", params: func(p []uint64) { p[2] = 0 }, subscription: sub, expectedErrno: ErrnoInval},
		{name: "out-of-memory subscriptions", params: func(p []uint64) { p[0] = 240 }, subscription: sub, expectedErrno: ErrnoFault},
		{name: "out-of-memory events", params: func(p []uint64) { p[1] = 240 }, subscription: sub, expectedErrno: ErrnoFault},
		{name: "too many subscriptions", params: func(p []uint64) { p[2] = 1 << 30 }, subscription: sub, expectedErrno: ErrnoFault},
		{name: "unknown event type", params: func([]uint64) {}, subscription: fdSubscription(1, 3, fdStdin), expectedErrno: ErrnoInval},
		{name: "interrupted", params: func([]uint64) {}, subscription: sub, expectedErrno: ErrnoIntr},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			mem, params := pollMemory(tc.subscription)
			tc.params(params)
			require.Equal(t, tc.expectedErrno, e.poll(testCtx, mem, params))
			require.Equal(t, "????", string(mem.Buffer[256:]))
		})
	}
}

func TestSleep(t *testing.T) {
	require.NoError(t, sleep(testCtx, int64(time.Millisecond)))

	ctx, cancel := context.WithCancel(testCtx)
	cancel()
	require.ErrorIs(t, sleep(ctx, int64(time.Hour)), context.Canceled)
}
