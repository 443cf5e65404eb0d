//go:build darwin

package beep

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoPlayer struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device

	buf atomic.Pointer[[]byte]
	pos atomic.Uint32
}

func newPlayer() (player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo context: %w", err)
	}
	p := &malgoPlayer{ctx: ctx}
	if err := p.initDevice(); err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return p, nil
}

func (p *malgoPlayer) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return fmt.Errorf("malgo playback device: %w", err)
	}
	p.device = dev
	return nil
}

func (p *malgoPlayer) fill(out, _ []byte, frameCount uint32) {
	clear(out)
	b := p.buf.Load()
	if b == nil {
		return
	}
	pos := p.pos.Load()
	n := min(frameCount*2, uint32(len(*b))-pos)
	copy(out, (*b)[pos:pos+n])
	p.pos.Store(pos + n)
	if pos+n >= uint32(len(*b)) {
		p.buf.Store(nil)
	}
}

func (p *malgoPlayer) Play(samples []int16) error {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return fmt.Errorf("player closed")
	}
	p.device.Stop()
	p.pos.Store(0)
	p.buf.Store(&data)

	if err := p.device.Start(); err != nil {
		// the device goes stale across sleep/wake
		p.device.Uninit()
		p.device = nil
		if err := p.initDevice(); err != nil {
			p.buf.Store(nil)
			return err
		}
		if err := p.device.Start(); err != nil {
			p.buf.Store(nil)
			return fmt.Errorf("starting playback: %w", err)
		}
	}
	return nil
}

func (p *malgoPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	p.ctx.Uninit()
	p.ctx.Free()
}
