package playback

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/docvoice/internal/audio"
)

type recordingDevice struct {
	delay time.Duration

	active  atomic.Int32
	overlap atomic.Bool

	mu     sync.Mutex
	played []int
	closed int
}

func (d *recordingDevice) Play(ctx context.Context, samples []float32) error {
	if d.active.Add(1) > 1 {
		d.overlap.Store(true)
	}
	defer d.active.Add(-1)

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.mu.Lock()
	d.played = append(d.played, len(samples))
	d.mu.Unlock()
	return nil
}

func (d *recordingDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *recordingDevice) playedLens() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.played...)
}

func frameOf(n int) audio.Frame {
	return audio.EncodeFrame(make([]float32, n))
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestQueuePlaysInOrderAndSkipsUndecodableFrame(t *testing.T) {
	dev := &recordingDevice{delay: 5 * time.Millisecond}
	q := NewQueue(dev, nil)

	q.Enqueue(frameOf(1))
	q.Enqueue(audio.Frame{1, 2, 3}) // odd length cannot decode
	q.Enqueue(frameOf(3))
	waitIdle(t, q)

	require.Equal(t, []int{1, 3}, dev.playedLens())
	require.False(t, dev.overlap.Load())
	require.False(t, q.Playing())
}

func TestQueueNeverOverlapsUnderConcurrentEnqueue(t *testing.T) {
	dev := &recordingDevice{delay: time.Millisecond}
	q := NewQueue(dev, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				q.Enqueue(frameOf(2))
			}
		}()
	}
	wg.Wait()
	waitIdle(t, q)

	require.Len(t, dev.playedLens(), 40)
	require.False(t, dev.overlap.Load())
}

func TestQueueKeepsGoingAfterDeviceError(t *testing.T) {
	var calls []int
	var mu sync.Mutex
	dev := DeviceFunc(func(_ context.Context, samples []float32) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, len(samples))
		if len(samples) == 2 {
			return os.ErrClosed
		}
		return nil
	})
	q := NewQueue(dev, nil)

	q.Enqueue(frameOf(1))
	q.Enqueue(frameOf(2))
	q.Enqueue(frameOf(3))
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, calls)
}

func TestQueueClearDropsPendingFrames(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var played []int
	dev := DeviceFunc(func(_ context.Context, samples []float32) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		played = append(played, len(samples))
		mu.Unlock()
		return nil
	})
	q := NewQueue(dev, nil)

	q.Enqueue(frameOf(1))
	<-started
	q.Enqueue(frameOf(2))
	q.Enqueue(frameOf(3))
	require.Equal(t, 2, q.Len())

	q.Clear()
	require.Zero(t, q.Len())
	require.False(t, q.Playing())
	close(release)

	q.Enqueue(frameOf(4))
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 4}, played)
}

func TestQueueDisposeReleasesDevice(t *testing.T) {
	dev := &recordingDevice{}
	q := NewQueue(dev, nil)
	q.Enqueue(frameOf(1))
	waitIdle(t, q)

	require.NoError(t, q.Dispose())
	require.NoError(t, q.Dispose())
	require.Equal(t, 1, dev.closed)

	q.Enqueue(frameOf(1))
	require.Zero(t, q.Len())
	require.Equal(t, []int{1}, dev.playedLens())
}

func TestWAVDeviceWritesPlayedAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	dev := NewWAVDevice(path, false)
	q := NewQueue(dev, nil)

	q.Enqueue(audio.EncodeFrame([]float32{0.5, -0.5}))
	q.Enqueue(audio.EncodeFrame([]float32{1}))
	waitIdle(t, q)
	require.Equal(t, 3, dev.Samples())
	require.NoError(t, q.Dispose())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate, rate)
	samples, err := audio.BytesToPCM16(pcm)
	require.NoError(t, err)
	require.Equal(t, []int16{16383, -16384, 32767}, samples)
}
