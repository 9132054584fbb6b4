package dispatch_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/dispatch"
	"github.com/srg/wearlink/internal/protocol"
	"github.com/srg/wearlink/internal/testutils"
)

// collector gathers deliveries across the worker goroutine.
type collector struct {
	mu       sync.Mutex
	records  []protocol.SensorData
	vectors  []protocol.Vector
	quats    []protocol.Quaternion
	raws     [][]byte
	gestures []protocol.GestureEvent
	errs     []error
}

func (c *collector) listener() dispatch.Listener {
	return dispatch.Listener{
		OnSensorData: func(d protocol.SensorData) {
			c.mu.Lock()
			c.records = append(c.records, d)
			c.mu.Unlock()
		},
		OnVector: func(_ protocol.SensorID, _ protocol.SensorTimestamp, v protocol.Vector) {
			c.mu.Lock()
			c.vectors = append(c.vectors, v)
			c.mu.Unlock()
		},
		OnQuaternion: func(_ protocol.SensorID, _ protocol.SensorTimestamp, q protocol.Quaternion) {
			c.mu.Lock()
			c.quats = append(c.quats, q)
			c.mu.Unlock()
		},
		OnRaw: func(_ protocol.SensorID, _ protocol.SensorTimestamp, payload []byte) {
			c.mu.Lock()
			c.raws = append(c.raws, payload)
			c.mu.Unlock()
		},
		OnGesture: func(ev protocol.GestureEvent) {
			c.mu.Lock()
			c.gestures = append(c.gestures, ev)
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
	}
}

func (c *collector) wait(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ok := cond()
		c.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	h := testutils.NewTestHelper(t)
	d := dispatch.New(64, h.Logger)
	t.Cleanup(d.Close)
	return d
}

func TestDispatcherFansOutByShape(t *testing.T) {
	d := newDispatcher(t)
	c := &collector{}
	d.Subscribe(c.listener())

	d.PublishSensorData(protocol.SensorData{Samples: []protocol.SensorSample{
		{ID: protocol.SensorAccelerometer, Kind: protocol.SampleVector, Vector: protocol.Vector{X: 1}},
		{ID: protocol.SensorRotation, Kind: protocol.SampleQuaternion, Quaternion: protocol.Quaternion{W: 1}},
		{ID: protocol.SensorUncalibratedMagnetometer, Kind: protocol.SampleVectorBias, Vector: protocol.Vector{Y: 2}},
		{ID: protocol.SensorID(200), Kind: protocol.SampleRaw, Raw: []byte{0xaa}},
	}})

	c.wait(t, func() bool { return len(c.records) == 1 })
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.records[0].Samples, 4, "aggregate sees the whole record")
	assert.Equal(t, []protocol.Vector{{X: 1}, {Y: 2}}, c.vectors, "vector and vector+bias both fan out as vectors")
	require.Len(t, c.quats, 1)
	require.Len(t, c.raws, 1)
	assert.Equal(t, []byte{0xaa}, c.raws[0])
}

func TestDispatcherPerSensorCallbacks(t *testing.T) {
	d := newDispatcher(t)

	var mu sync.Mutex
	var accels, uncal, biases []protocol.Vector
	var rotations []protocol.Quaternion
	d.Subscribe(dispatch.Listener{
		OnAccelerometer: func(_ protocol.SensorTimestamp, v protocol.Vector) {
			mu.Lock()
			accels = append(accels, v)
			mu.Unlock()
		},
		OnRotation: func(_ protocol.SensorTimestamp, q protocol.Quaternion) {
			mu.Lock()
			rotations = append(rotations, q)
			mu.Unlock()
		},
		OnUncalibratedMagnetometer: func(_ protocol.SensorTimestamp, v, bias protocol.Vector) {
			mu.Lock()
			uncal = append(uncal, v)
			biases = append(biases, bias)
			mu.Unlock()
		},
	})

	// Gyroscope and game-rotation samples have no matching callback here and
	// must be routed past this listener without any hand filtering on its part.
	d.PublishSensorData(protocol.SensorData{Samples: []protocol.SensorSample{
		{ID: protocol.SensorAccelerometer, Kind: protocol.SampleVector, Vector: protocol.Vector{X: 1}},
		{ID: protocol.SensorGyroscope, Kind: protocol.SampleVector, Vector: protocol.Vector{Z: 9}},
		{ID: protocol.SensorRotation, Kind: protocol.SampleQuaternion, Quaternion: protocol.Quaternion{W: 1}},
		{ID: protocol.SensorGameRotation, Kind: protocol.SampleQuaternion, Quaternion: protocol.Quaternion{X: 1}},
		{ID: protocol.SensorUncalibratedMagnetometer, Kind: protocol.SampleVectorBias, Vector: protocol.Vector{Y: 2}, Bias: protocol.Vector{Y: 0.5}},
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(accels) == 1 && len(rotations) == 1 && len(uncal) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocol.Vector{{X: 1}}, accels, "only the accelerometer sample reaches OnAccelerometer")
	assert.Equal(t, []protocol.Quaternion{{W: 1}}, rotations, "game-rotation does not leak into OnRotation")
	require.Len(t, uncal, 1)
	assert.Equal(t, protocol.Vector{Y: 2}, uncal[0])
	assert.Equal(t, protocol.Vector{Y: 0.5}, biases[0])
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	h := testutils.NewTestHelper(t)
	d := dispatch.New(8, h.Logger)
	c := &collector{}
	d.Subscribe(c.listener())

	d.Close()
	d.Close() // idempotent

	// Late transport callbacks after teardown are discarded, not delivered.
	d.PublishSensorData(protocol.SensorData{Samples: []protocol.SensorSample{
		{ID: protocol.SensorAccelerometer, Kind: protocol.SampleVector},
	}})
	d.PublishGesture(protocol.GestureEvent{ID: protocol.GestureTap})
	d.PublishError(errors.New("late"))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.records)
	assert.Empty(t, c.gestures)
	assert.Empty(t, c.errs)
}

func TestDispatcherMultipleSubscribers(t *testing.T) {
	d := newDispatcher(t)
	a, b := &collector{}, &collector{}
	d.Subscribe(a.listener())
	d.Subscribe(b.listener())

	d.PublishGesture(protocol.GestureEvent{ID: protocol.GestureTap})

	a.wait(t, func() bool { return len(a.gestures) == 1 })
	b.wait(t, func() bool { return len(b.gestures) == 1 })
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := newDispatcher(t)
	kept, cancelled := &collector{}, &collector{}
	d.Subscribe(kept.listener())
	sub := d.Subscribe(cancelled.listener())

	d.PublishGesture(protocol.GestureEvent{ID: protocol.GestureTap})
	kept.wait(t, func() bool { return len(kept.gestures) == 1 })

	sub.Cancel()
	d.PublishGesture(protocol.GestureEvent{ID: protocol.GestureShake})
	kept.wait(t, func() bool { return len(kept.gestures) == 2 })

	cancelled.mu.Lock()
	n := len(cancelled.gestures)
	cancelled.mu.Unlock()
	assert.LessOrEqual(t, n, 1, "no deliveries after cancel settles")
}

func TestDispatcherPublishesErrors(t *testing.T) {
	d := newDispatcher(t)
	c := &collector{}
	d.Subscribe(c.listener())

	cause := errors.New("stream desync")
	d.PublishError(cause)
	d.PublishError(nil) // ignored

	c.wait(t, func() bool { return len(c.errs) == 1 })
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.ErrorIs(t, c.errs[0], cause)
}

func TestDispatcherNilCallbacksSkipped(t *testing.T) {
	d := newDispatcher(t)
	c := &collector{}
	// Only the gesture callback is set; sensor events must not panic.
	d.Subscribe(dispatch.Listener{OnGesture: func(ev protocol.GestureEvent) {
		c.mu.Lock()
		c.gestures = append(c.gestures, ev)
		c.mu.Unlock()
	}})

	d.PublishSensorData(protocol.SensorData{Samples: []protocol.SensorSample{
		{ID: protocol.SensorAccelerometer, Kind: protocol.SampleVector},
	}})
	d.PublishGesture(protocol.GestureEvent{ID: protocol.GestureTap})

	c.wait(t, func() bool { return len(c.gestures) == 1 })
}
