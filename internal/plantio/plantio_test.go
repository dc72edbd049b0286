package plantio

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/pkg/types"
)

// fakePLC answers Modbus TCP read-holding-registers and write-single-register requests.
type fakePLC struct {
	ln    net.Listener
	mu    sync.Mutex
	regs  map[uint16]uint16
	conns []net.Conn
}

func startFakePLC(t *testing.T) *fakePLC {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakePLC{ln: ln, regs: make(map[uint16]uint16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.conns = append(f.conns, conn)
			f.mu.Unlock()
			go f.serve(conn)
		}
	}()
	t.Cleanup(f.stop)
	return f
}

func (f *fakePLC) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakePLC) stop() {
	f.ln.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
}

func (f *fakePLC) set(addr, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = value
}

func (f *fakePLC) get(addr uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[addr]
}

func (f *fakePLC) serve(conn net.Conn) {
	defer conn.Close()
	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		var resp []byte
		switch pdu[0] {
		case 3:
			addr := binary.BigEndian.Uint16(pdu[1:3])
			qty := binary.BigEndian.Uint16(pdu[3:5])
			resp = []byte{3, byte(qty * 2)}
			for i := uint16(0); i < qty; i++ {
				resp = binary.BigEndian.AppendUint16(resp, f.get(addr+i))
			}
		case 6:
			f.set(binary.BigEndian.Uint16(pdu[1:3]), binary.BigEndian.Uint16(pdu[3:5]))
			resp = append([]byte(nil), pdu...)
		default:
			resp = []byte{pdu[0] | 0x80, 1}
		}

		out := make([]byte, 7, 7+len(resp))
		copy(out, header[:4])
		binary.BigEndian.PutUint16(out[4:6], uint16(len(resp)+1))
		out[6] = header[6]
		out = append(out, resp...)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func TestModbusBusReadWrite(t *testing.T) {
	plc := startFakePLC(t)
	bus, err := NewModbusBus(types.PLCConfig{Address: "127.0.0.1", Port: plc.port(), Timeout: time.Second})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.Connect(ctx))
	assert.True(t, bus.Connected())

	regs := DefaultRegisterMap()

	require.NoError(t, bus.WriteTag(ctx, TagStepMain, -3))
	assert.Equal(t, uint16(0xFFFD), plc.get(uint16(regs[TagStepMain])))

	v, err := bus.ReadTag(ctx, TagStepMain)
	require.NoError(t, err)
	assert.Equal(t, -3, v)

	plc.set(uint16(regs[TagOperatingMode]), PLCModeManual)
	v, err = bus.ReadTag(ctx, TagOperatingMode)
	require.NoError(t, err)
	assert.Equal(t, PLCModeManual, v)

	_, err = bus.ReadTag(ctx, "No_Such_Tag")
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestModbusBusDropsLinkOnFailure(t *testing.T) {
	plc := startFakePLC(t)
	bus, err := NewModbusBus(types.PLCConfig{Address: "127.0.0.1", Port: plc.port(), Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.WriteTag(ctx, TagComActive, 1), "connects lazily")
	assert.True(t, bus.Connected())

	plc.stop()
	assert.Error(t, bus.WriteTag(ctx, TagComActive, 0))
	assert.False(t, bus.Connected())
}

func TestRegisterMapRejectsOutOfRange(t *testing.T) {
	_, err := NewModbusBus(types.PLCConfig{Tags: map[string]int{TagEnable: 70000}})
	assert.Error(t, err)
}

func TestMemoryBus(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	bus.Set(TagEnable, 1)
	on, err := ReadBool(ctx, bus, TagEnable)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, bus.WriteTag(ctx, TagRobotMoving, Bool(true)))
	assert.Equal(t, 1, bus.Get(TagRobotMoving))
	assert.Equal(t, 1, bus.Writes(TagRobotMoving))

	bus.SetConnected(false)
	assert.ErrorIs(t, bus.WriteTag(ctx, TagRobotMoving, 0), ErrDisconnected)
	_, err = bus.ReadTag(ctx, TagEnable)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.False(t, bus.Connected())
}
