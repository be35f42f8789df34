package app

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/device"
	"github.com/dd0wney/cluso-flownet/pkg/hierarchy"
	"github.com/dd0wney/cluso-flownet/pkg/module"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// doubler is a module reading one value and publishing twice its value.
func doubler() (*module.ApplicationModule, *module.Input, *module.Output) {
	m := module.New("Doubler", "doubles its input")
	in := m.ScalarPushInput("in", variant.TypeFloat64, "")
	out := m.ScalarOutput("out", variant.TypeFloat64, "")
	m.MainLoop = func() {
		for {
			v, ok := in.Read()
			if !ok {
				return
			}
			x, err := v.ScalarFloat64()
			if err != nil {
				return
			}
			out.Write(variant.Float64s(2 * x))
		}
	}
	return m, in, out
}

// TestFacilityRequiresTestableMode: production-mode applications cannot be
// stepped
func TestFacilityRequiresTestableMode(t *testing.T) {
	a := New("prod")
	_, err := NewTestFacility(a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sched.ErrNotTestable))
}

// TestControlSystemRoundTrip: write in, step, read the result out
func TestControlSystemRoundTrip(t *testing.T) {
	a := New("roundtrip", WithTestableMode())
	m, in, out := doubler()
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))

	csIn := a.ControlSystemNode("/in", accessor.Feeding, variant.TypeFloat64, 1, "")
	csOut := a.ControlSystemNode("/out", accessor.Consuming, variant.TypeFloat64, 1, "")
	require.NoError(t, a.Connect(csIn, in.Node()))
	require.NoError(t, a.Connect(out.Node(), csOut))

	tf, err := NewTestFacility(a)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	require.NoError(t, tf.WriteScalar("/in", variant.Float64s(21)))
	require.NoError(t, tf.StepApplication(false))

	tr, err := tf.ReadLatest("/out")
	require.NoError(t, err)
	got, err := tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
	assert.Equal(t, accessor.Ok, tr.Validity)
	assert.NotEqual(t, accessor.VersionUnset, tr.Version)

	// A second round keeps the updates ordered.
	require.NoError(t, tf.WriteScalar("/in", variant.Float64s(3)))
	require.NoError(t, tf.StepApplication(false))
	tr, pending, err := tf.TryRead("/out")
	require.NoError(t, err)
	require.True(t, pending)
	v, err := tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	// Versions keep increasing between rounds.
	assert.Greater(t, tr.Version, accessor.VersionUnset)
}

// TestStepWithNothingPendingFails with the scheduler sentinel
func TestStepWithNothingPendingFails(t *testing.T) {
	a := New("idle", WithTestableMode())
	m, in, out := doubler()
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))
	require.NoError(t, a.Connect(a.ControlSystemNode("/in", accessor.Feeding, variant.TypeFloat64, 1, ""), in.Node()))
	require.NoError(t, a.Connect(out.Node(), a.ControlSystemNode("/out", accessor.Consuming, variant.TypeFloat64, 1, "")))

	tf, err := NewTestFacility(a)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	assert.False(t, tf.CanStepApplication())
	err = tf.StepApplication(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sched.ErrNothingPending))
}

// TestDoubleInitialiseRejected as an application logic error
func TestDoubleInitialiseRejected(t *testing.T) {
	a := New("twice", WithTestableMode())
	m, in, out := doubler()
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))
	require.NoError(t, a.Connect(a.ControlSystemNode("/in", accessor.Feeding, variant.TypeFloat64, 1, ""), in.Node()))
	require.NoError(t, a.Connect(out.Node(), a.ControlSystemNode("/out", accessor.Consuming, variant.TypeFloat64, 1, "")))

	require.NoError(t, a.Initialise())
	err := a.Initialise()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLogic))

	// Structural mutations are rejected after initialisation, too.
	assert.True(t, errors.Is(a.AddModule(hierarchy.RootIndex, module.New("Late", "")), ErrLogic))
	_, err = a.AddGroup(hierarchy.RootIndex, "Late")
	assert.True(t, errors.Is(err, ErrLogic))
}

// TestConnectTypeMismatchFails fast at wiring time
func TestConnectTypeMismatchFails(t *testing.T) {
	a := New("mismatch", WithTestableMode())
	m := module.New("M", "")
	in := m.ScalarPushInput("in", variant.TypeInt64, "")
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))

	cs := a.ControlSystemNode("/in", accessor.Feeding, variant.TypeFloat64, 1, "")
	assert.Error(t, a.Connect(cs, in.Node()))
}

// TestNetworkWithoutFeederRejected at initialisation
func TestNetworkWithoutFeederRejected(t *testing.T) {
	a := New("feederless", WithTestableMode())
	m := module.New("M", "")
	x := m.ScalarPushInput("x", variant.TypeFloat64, "")
	y := m.ScalarPushInput("y", variant.TypeFloat64, "")
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))
	require.NoError(t, a.Connect(x.Node(), y.Node()))

	assert.Error(t, a.Initialise())
}

// TestUnconnectedInputGetsDefault: declared-but-unwired inputs receive a
// constant at startup
func TestUnconnectedInputGetsDefault(t *testing.T) {
	a := New("defaults", WithTestableMode())
	m := module.New("Echo", "republishes its input")
	in := m.ScalarPushInput("setpoint", variant.TypeFloat64, "")
	out := m.ScalarOutput("echo", variant.TypeFloat64, "")
	m.MainLoop = func() {
		for {
			v, ok := in.Read()
			if !ok {
				return
			}
			out.Write(v)
		}
	}
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))
	require.NoError(t, a.Connect(out.Node(), a.ControlSystemNode("/echo", accessor.Consuming, variant.TypeFloat64, 1, "")))

	tf, err := NewTestFacility(a)
	require.NoError(t, err)
	require.NoError(t, tf.SetScalarDefault("Echo/setpoint", variant.Float64s(42)))
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	tr, err := tf.ReadLatest("/echo")
	require.NoError(t, err)
	got, err := tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
	assert.NotEqual(t, accessor.VersionUnset, tr.Version)

	// Defaults are fixed once the application runs.
	assert.True(t, errors.Is(tf.SetScalarDefault("Echo/setpoint", variant.Float64s(1)), ErrLogic))
}

// TestUnconsumedTransferStalls: a value nobody reads must surface as a
// stall naming the stuck endpoint
func TestUnconsumedTransferStalls(t *testing.T) {
	a := New("stall", WithTestableMode())
	m := module.New("Sleepy", "never reads a")
	aIn := m.ScalarPushInput("a", variant.TypeFloat64, "")
	bIn := m.ScalarPushInput("b", variant.TypeFloat64, "")
	m.MainLoop = func() {
		for {
			if _, ok := bIn.Read(); !ok {
				return
			}
		}
	}
	require.NoError(t, a.AddModule(hierarchy.RootIndex, m))
	require.NoError(t, a.Connect(a.ControlSystemNode("/a", accessor.Feeding, variant.TypeFloat64, 1, ""), aIn.Node()))

	a.Scheduler().MaxRepeats = 50
	a.Scheduler().HandoffDelay = 10 * time.Microsecond

	tf, err := NewTestFacility(a)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	require.NoError(t, tf.WriteScalar("/a", variant.Float64s(1)))
	err = tf.StepApplication(false)
	require.Error(t, err)
	require.True(t, sched.IsTestsStalled(err))

	var stalled *sched.TestsStalledError
	require.True(t, errors.As(err, &stalled))
	require.NotEmpty(t, stalled.Pending)
	assert.Equal(t, "Sleepy/a", stalled.Pending[0].Endpoint)
}

// TestCircularNetworkValidity: faults entering a cycle from outside
// invalidate all members; the cycle never latches its own fault state
func TestCircularNetworkValidity(t *testing.T) {
	app := New("cycle", WithTestableMode())

	modA := module.New("A", "cycle head")
	kick := modA.ScalarPushInput("kick", variant.TypeInt64, "")
	loopIn := modA.ScalarPushInput("loop_in", variant.TypeInt64, "")
	aOut := modA.ScalarOutput("a_out", variant.TypeInt64, "")
	modA.MainLoop = func() {
		g := module.NewReadAnyGroup(kick, loopIn)
		for {
			in, ok := g.ReadAny()
			if !ok {
				return
			}
			// Only externally driven rounds feed the cycle, otherwise the
			// two modules would ping-pong forever.
			if in == kick {
				aOut.Write(in.Value())
			}
		}
	}

	modB := module.New("B", "cycle tail")
	bIn := modB.ScalarPushInput("b_in", variant.TypeInt64, "")
	bOut := modB.ScalarOutput("b_out", variant.TypeInt64, "")
	modB.MainLoop = func() {
		for {
			v, ok := bIn.Read()
			if !ok {
				return
			}
			bOut.Write(v)
		}
	}

	require.NoError(t, app.AddModule(hierarchy.RootIndex, modA))
	require.NoError(t, app.AddModule(hierarchy.RootIndex, modB))
	require.NoError(t, app.Connect(aOut.Node(), bIn.Node()))
	require.NoError(t, app.Connect(bOut.Node(), loopIn.Node()))
	require.NoError(t, app.Connect(
		app.ControlSystemNode("/kick", accessor.Feeding, variant.TypeInt64, 1, ""), kick.Node()))
	require.NoError(t, app.Connect(bOut.Node(),
		app.ControlSystemNode("/b_out", accessor.Consuming, variant.TypeInt64, 1, "")))

	tf, err := NewTestFacility(app)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	// Both modules carry the same cycle identity.
	invA, inCycleA := app.CycleInvalidity("A")
	invB, inCycleB := app.CycleInvalidity("B")
	require.True(t, inCycleA)
	require.True(t, inCycleB)
	assert.Zero(t, invA)
	assert.Zero(t, invB)
	_, other := app.CycleInvalidity("C")
	assert.False(t, other)

	// A faulty value entering from outside invalidates the whole cycle.
	require.NoError(t, tf.WriteTransfer("/kick", accessor.Transfer{
		Value: variant.Int64s(1), Validity: accessor.Faulty, Version: accessor.NextVersion(),
	}))
	require.NoError(t, tf.StepApplication(false))

	invA, _ = app.CycleInvalidity("A")
	assert.Equal(t, int64(1), invA)
	tr, err := tf.ReadLatest("/b_out")
	require.NoError(t, err)
	assert.Equal(t, accessor.Faulty, tr.Validity)

	// Once the external input recovers, the cycle recovers with it.
	require.NoError(t, tf.WriteScalar("/kick", variant.Int64s(2)))
	require.NoError(t, tf.StepApplication(false))

	invA, _ = app.CycleInvalidity("A")
	assert.Zero(t, invA)
	tr, err = tf.ReadLatest("/b_out")
	require.NoError(t, err)
	assert.Equal(t, accessor.Ok, tr.Validity)
	v, err := tr.Value.ScalarInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

// TestDevicePushPropagatesThroughStep: a hardware-initiated push on an
// otherwise quiescent application counts as pending work and is delivered
// by the next step
func TestDevicePushPropagatesThroughStep(t *testing.T) {
	app := New("watch", WithTestableMode())

	backend := device.NewDemoBackend("plc",
		device.RegisterInfo{Path: "alarm", Type: variant.TypeInt64, NElements: 1, Mode: accessor.Push},
	)
	_, err := app.AddDevice("plc", backend)
	require.NoError(t, err)

	monitor := module.New("Monitor", "republishes the alarm word")
	alarm := monitor.ScalarPushInput("alarm", variant.TypeInt64, "")
	seen := monitor.ScalarOutput("seen", variant.TypeInt64, "")
	monitor.MainLoop = func() {
		for {
			v, ok := alarm.Read()
			if !ok {
				return
			}
			seen.Write(v)
		}
	}
	require.NoError(t, app.AddModule(hierarchy.RootIndex, monitor))

	alarmNode, err := app.DeviceNode("plc", "alarm",
		accessor.Feeding, accessor.Push, variant.TypeInt64, 1, "")
	require.NoError(t, err)
	require.NoError(t, app.Connect(alarmNode, alarm.Node()))
	require.NoError(t, app.Connect(seen.Node(),
		app.ControlSystemNode("/seen", accessor.Consuming, variant.TypeInt64, 1, "")))

	tf, err := NewTestFacility(app)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	// The injected update alone must make the application steppable.
	require.NoError(t, backend.Inject("alarm", variant.Int64s(7)))
	require.True(t, tf.CanStepApplication())
	require.NoError(t, tf.StepApplication(false))

	tr, got, err := tf.TryRead("/seen")
	require.NoError(t, err)
	require.True(t, got)
	v, err := tr.Value.ScalarInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, accessor.Ok, tr.Validity)

	// Quiescent again once the update was consumed.
	assert.False(t, tf.CanStepApplication())
}

// TestPollingConsumerPullsOnDemand: a poll-mode feeder with a single
// polling consumer needs no trigger wiring; every read returns the
// register's current value
func TestPollingConsumerPullsOnDemand(t *testing.T) {
	app := New("gauge", WithTestableMode())

	backend := device.NewDemoBackend("plc",
		device.RegisterInfo{Path: "pressure", Type: variant.TypeFloat64, NElements: 1, Mode: accessor.Poll},
	)
	_, err := app.AddDevice("plc", backend)
	require.NoError(t, err)

	sampler := module.New("Sampler", "publishes the pressure on demand")
	grab := sampler.ScalarPushInput("grab", variant.TypeInt64, "")
	pressure := sampler.ScalarPollInput("pressure", variant.TypeFloat64, "bar")
	out := sampler.ScalarOutput("sample", variant.TypeFloat64, "bar")
	sampler.MainLoop = func() {
		for {
			if _, ok := grab.Read(); !ok {
				return
			}
			v, _ := pressure.Read()
			out.Write(v)
		}
	}
	require.NoError(t, app.AddModule(hierarchy.RootIndex, sampler))

	node, err := app.DeviceNode("plc", "pressure",
		accessor.Feeding, accessor.Poll, variant.TypeFloat64, 1, "bar")
	require.NoError(t, err)
	require.NoError(t, app.Connect(node, pressure.Node()))
	require.NoError(t, app.Connect(
		app.ControlSystemNode("/grab", accessor.Feeding, variant.TypeInt64, 1, ""), grab.Node()))
	require.NoError(t, app.Connect(out.Node(),
		app.ControlSystemNode("/sample", accessor.Consuming, variant.TypeFloat64, 1, "bar")))

	tf, err := NewTestFacility(app)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()

	require.NoError(t, backend.Inject("pressure", variant.Float64s(2.5)))
	require.NoError(t, tf.WriteScalar("/grab", variant.Int64s(1)))
	require.NoError(t, tf.StepApplication(false))

	tr, err := tf.ReadLatest("/sample")
	require.NoError(t, err)
	got, err := tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
	assert.Equal(t, accessor.Ok, tr.Validity)

	// The next pull sees the changed register without any trigger.
	require.NoError(t, backend.Inject("pressure", variant.Float64s(3.5)))
	require.NoError(t, tf.WriteScalar("/grab", variant.Int64s(2)))
	require.NoError(t, tf.StepApplication(false))

	tr, err = tf.ReadLatest("/sample")
	require.NoError(t, err)
	got, err = tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)
}

// TestTriggeredDevicePolling: a trigger pulse causes exactly one poll and
// one broadcast; device exceptions surface as faulty data and recover
// within the stepped protocol
func TestTriggeredDevicePolling(t *testing.T) {
	app := New("oven", WithTestableMode())

	backend := device.NewDemoBackend("oven",
		device.RegisterInfo{Path: "temperature", Type: variant.TypeFloat64, NElements: 1, Mode: accessor.Poll},
	)
	dev, err := app.AddDevice("oven", backend)
	require.NoError(t, err)

	timer := module.New("Timer", "pulse generator")
	goIn := timer.ScalarPushInput("go", variant.TypeInt64, "")
	tick := timer.TriggerOutput("tick")
	timer.MainLoop = func() {
		for {
			if _, ok := goIn.Read(); !ok {
				return
			}
			tick.Trigger()
		}
	}

	reader := module.New("Reader", "publishes the oven temperature")
	temp := reader.ScalarPushInput("temperature", variant.TypeFloat64, "degC")
	pub := reader.ScalarOutput("published", variant.TypeFloat64, "degC")
	reader.MainLoop = func() {
		for {
			v, ok := temp.Read()
			if !ok {
				return
			}
			pub.Write(v)
		}
	}

	require.NoError(t, app.AddModule(hierarchy.RootIndex, timer))
	require.NoError(t, app.AddModule(hierarchy.RootIndex, reader))

	tempNode, err := app.DeviceNode("oven", "temperature",
		accessor.Feeding, accessor.Poll, variant.TypeFloat64, 1, "degC")
	require.NoError(t, err)
	require.NoError(t, app.Connect(tempNode, temp.Node()))
	require.NoError(t, app.TriggerBy(tempNode, tick.Node()))
	require.NoError(t, app.Connect(
		app.ControlSystemNode("/go", accessor.Feeding, variant.TypeInt64, 1, ""), goIn.Node()))
	require.NoError(t, app.Connect(pub.Node(),
		app.ControlSystemNode("/temperature", accessor.Consuming, variant.TypeFloat64, 1, "degC")))

	tf, err := NewTestFacility(app)
	require.NoError(t, err)
	require.NoError(t, tf.RunApplication())
	defer tf.Shutdown()
	require.True(t, dev.Functional())

	// One pulse, one poll, one published value.
	require.NoError(t, backend.Inject("temperature", variant.Float64s(21.5)))
	require.NoError(t, tf.WriteScalar("/go", variant.Int64s(1)))
	require.NoError(t, tf.StepApplication(false))

	tr, err := tf.ReadLatest("/temperature")
	require.NoError(t, err)
	got, err := tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 21.5, got)
	assert.Equal(t, accessor.Ok, tr.Validity)
	assert.NotEqual(t, accessor.VersionUnset, tr.Version)

	// A failing poll publishes the last known value marked faulty; the
	// supervisor picks the exception up and reopens within the same step.
	backend.FailNext(errors.New("bus timeout"))
	require.NoError(t, tf.WriteScalar("/go", variant.Int64s(2)))
	require.NoError(t, tf.StepApplication(false))

	tr, err = tf.ReadLatest("/temperature")
	require.NoError(t, err)
	got, err = tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 21.5, got)
	assert.Equal(t, accessor.Faulty, tr.Validity)
	assert.Equal(t, uint64(1), dev.Recoveries())

	// The next round polls the recovered backend.
	require.NoError(t, backend.Inject("temperature", variant.Float64s(30)))
	require.NoError(t, tf.WriteScalar("/go", variant.Int64s(3)))
	require.NoError(t, tf.StepApplication(false))

	tr, err = tf.ReadLatest("/temperature")
	require.NoError(t, err)
	got, err = tr.Value.ScalarFloat64()
	require.NoError(t, err)
	assert.Equal(t, 30.0, got)
	assert.Equal(t, accessor.Ok, tr.Validity)
}
