// Package screencast periodically captures the local screen and publishes
// JPEG frames to the device topic.
package screencast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"labwatch/internal/domain"
	"labwatch/internal/protocol"

	"github.com/jonboulle/clockwork"
)

// Capturer grabs the current screen contents
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Publisher sends an encoded frame to the relay
type Publisher interface {
	SendBinary(data []byte) error
}

// Producer runs one capture loop per device id
type Producer struct {
	capturer  Capturer
	publisher Publisher
	clock     clockwork.Clock
	interval  time.Duration
	quality   int

	mu    sync.Mutex
	loops map[string]*loop

	skipped atomic.Uint64
}

type loop struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight atomic.Bool
	captures sync.WaitGroup

	// held while publishing so Stop can fence late captures
	pubMu sync.Mutex
}

// Option configures a Producer
type Option func(*Producer)

func WithClock(c clockwork.Clock) Option {
	return func(p *Producer) { p.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(p *Producer) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithQuality sets the JPEG quality, 1 to 100
func WithQuality(q int) Option {
	return func(p *Producer) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

func NewProducer(capturer Capturer, publisher Publisher, opts ...Option) *Producer {
	p := &Producer{
		capturer:  capturer,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		interval:  time.Second,
		quality:   60,
		loops:     make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins producing frames for deviceID. Starting a running loop is a
// no-op.
func (p *Producer) Start(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loops[deviceID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	p.loops[deviceID] = l
	go p.run(ctx, deviceID, l)
	log.Printf("Screencast: started for %s every %v", deviceID, p.interval)
}

// Stop cancels deviceID's loop. No frame is published after Stop returns.
func (p *Producer) Stop(deviceID string) {
	p.mu.Lock()
	l, ok := p.loops[deviceID]
	delete(p.loops, deviceID)
	p.mu.Unlock()
	if !ok {
		return
	}
	l.stop()
	log.Printf("Screencast: stopped for %s", deviceID)
}

// StopAll cancels every loop
func (p *Producer) StopAll() {
	p.mu.Lock()
	loops := p.loops
	p.loops = make(map[string]*loop)
	p.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
}

// Running reports whether a loop exists for deviceID
func (p *Producer) Running(deviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[deviceID]
	return ok
}

// Skipped returns how many ticks were skipped because a capture was still
// in flight.
func (p *Producer) Skipped() uint64 {
	return p.skipped.Load()
}

func (l *loop) stop() {
	l.cancel()
	<-l.done
	l.pubMu.Lock()
	l.pubMu.Unlock()
}

func (p *Producer) run(ctx context.Context, deviceID string, l *loop) {
	defer close(l.done)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !l.inFlight.CompareAndSwap(false, true) {
				p.skipped.Add(1)
				continue
			}
			seq++
			l.captures.Add(1)
			go p.tick(ctx, deviceID, seq, l)
		}
	}
}

func (p *Producer) tick(ctx context.Context, deviceID string, seq uint32, l *loop) {
	defer l.captures.Done()
	defer l.inFlight.Store(false)

	data, err := p.frame(ctx, deviceID, seq)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("Screencast: %v", err)
		}
		return
	}

	l.pubMu.Lock()
	defer l.pubMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := p.publisher.SendBinary(data); err != nil {
		log.Printf("Screencast: failed to publish frame %d for %s: %v", seq, deviceID, err)
	}
}

func (p *Producer) frame(ctx context.Context, deviceID string, seq uint32) ([]byte, error) {
	img, err := p.capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureFailure, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", domain.ErrCaptureFailure, err)
	}

	return protocol.EncodeFrame(&protocol.Frame{
		Seq:       seq,
		Timestamp: p.clock.Now().UnixMilli(),
		DeviceID:  deviceID,
		Payload:   buf.Bytes(),
	})
}
