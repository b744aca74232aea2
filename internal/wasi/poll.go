package wasi

import (
	"context"
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-eventtype-enumu8
const (
	eventTypeClock uint8 = iota
	eventTypeFdRead
	eventTypeFdWrite
)

// https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-subclockflags-flagsu16
const subclockflagAbstime = 1

const (
	subscriptionLen = 48
	eventLen        = 32
)

// pollEvent is a subscription which occurred, or which will once its clock timeout elapses.
type pollEvent struct {
	userdata  uint64
	eventType uint8
	errno     Errno
	timeout   int64
}

// pollOneoff returns the WASI function named FunctionPollOneoff. It is not an errnoFunc, because sleeping must end
// when the context of the call is done.
func (e *Environment) pollOneoff() *wasm.HostFunc {
	return &wasm.HostFunc{
		Name:        FunctionPollOneoff,
		ParamTypes:  []api.ValueType{i32, i32, i32, i32},
		ResultTypes: []api.ValueType{i32},
		Call: func(ctx context.Context, m api.Module, params []uint64) ([]uint64, error) {
			return []uint64{uint64(e.poll(ctx, memoryOf(m), params))}, nil
		},
	}
}

// poll waits for the subscriptions at in, 48 bytes each, writing an event of 32 bytes to out for each one which
// occurred, and their count to resultNevents.
//
// File descriptors are always ready, so only a poll of clocks alone sleeps, until the earliest timeout. A clock
// subscription which cannot be waited on, such as a CPU time clock, occurs immediately with its errno set.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#poll_oneoff
func (e *Environment) poll(ctx context.Context, mem api.Memory, params []uint64) Errno {
	in, out, nsubscriptions, resultNevents := uint32(params[0]), uint32(params[1]), uint32(params[2]), uint32(params[3])

	if nsubscriptions == 0 {
		return ErrnoInval
	}
	if uint64(nsubscriptions)*subscriptionLen > math.MaxUint32 {
		return ErrnoFault
	}
	subscriptions, ok := mem.Read(in, nsubscriptions*subscriptionLen)
	if !ok {
		return ErrnoFault
	}
	if _, ok = mem.Read(out, nsubscriptions*eventLen); !ok {
		return ErrnoFault
	}

	var ready, clocks []pollEvent
	timeout := int64(math.MaxInt64)
	for i := uint32(0); i < nsubscriptions; i++ {
		sub := subscriptions[i*subscriptionLen : (i+1)*subscriptionLen]
		evt := pollEvent{userdata: binary.LittleEndian.Uint64(sub), eventType: sub[8]}

		// The contents of each subscription start at offset 16, after the userdata and the aligned tag.
		switch evt.eventType {
		case eventTypeClock:
			if evt.timeout, evt.errno = e.clockTimeout(sub[16:]); evt.errno != ErrnoSuccess {
				ready = append(ready, evt)
				continue
			}
			clocks = append(clocks, evt)
			if evt.timeout < timeout {
				timeout = evt.timeout
			}
		case eventTypeFdRead, eventTypeFdWrite:
			if _, ok = e.fds.lookup(binary.LittleEndian.Uint32(sub[16:])); !ok {
				evt.errno = ErrnoBadf
			}
			ready = append(ready, evt)
		default:
			return ErrnoInval
		}
	}

	if len(ready) == 0 {
		if err := e.nanosleep(ctx, timeout); err != nil {
			e.logger.Debug("poll_oneoff interrupted", zap.Error(err))
			return ErrnoIntr
		}
		for _, evt := range clocks {
			if evt.timeout == timeout {
				ready = append(ready, evt)
			}
		}
	}

	events := make([]byte, len(ready)*eventLen)
	for i, evt := range ready {
		b := events[i*eventLen:]
		binary.LittleEndian.PutUint64(b, evt.userdata)
		binary.LittleEndian.PutUint16(b[8:], uint16(evt.errno))
		b[10] = evt.eventType
	}
	if !mem.Write(out, events) || !mem.WriteUint32Le(resultNevents, uint32(len(ready))) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// clockTimeout returns the nanoseconds to wait for a clock subscription: its id as uint32le, then the timeout at
// offset 8, the precision at offset 16 and the flags as uint16le at offset 24. An absolute timeout already passed
// waits zero nanoseconds.
func (e *Environment) clockTimeout(sub []byte) (int64, Errno) {
	id, timeout, flags := binary.LittleEndian.Uint32(sub), binary.LittleEndian.Uint64(sub[8:]), binary.LittleEndian.Uint16(sub[24:])
	if flags&^subclockflagAbstime != 0 {
		return 0, ErrnoInval
	}

	ns := int64(math.MaxInt64)
	if timeout < math.MaxInt64 {
		ns = int64(timeout)
	}

	var now int64
	switch id {
	case clockIDRealtime:
		now = e.walltime().UnixNano()
	case clockIDMonotonic:
		now = e.nanotime()
	case clockIDProcessCputime, clockIDThreadCputime:
		return 0, ErrnoNotsup
	default:
		return 0, ErrnoInval
	}

	if flags&subclockflagAbstime != 0 {
		if ns -= now; ns < 0 {
			ns = 0
		}
	}
	return ns, ErrnoSuccess
}
