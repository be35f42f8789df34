package app

import (
	"fmt"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// TestFacility drives a testable-mode application deterministically: the
// test goroutine owns the driver token, so between steps every module
// goroutine is parked inside a blocking read and the test can inspect a
// quiescent application.
type TestFacility struct {
	app *Application
}

// NewTestFacility attaches a test driver to the application. The
// application must have been created with WithTestableMode.
func NewTestFacility(a *Application) (*TestFacility, error) {
	if !a.scheduler.Enabled() {
		return nil, fmt.Errorf("test facility requires testable mode: %w", sched.ErrNotTestable)
	}
	return &TestFacility{app: a}, nil
}

// SetScalarDefault installs an initial value for an endpoint left
// unconnected, overriding the type's zero value. Must be called before
// Initialise.
func (tf *TestFacility) SetScalarDefault(endpoint string, v variant.Value) error {
	if tf.app.state != stateConstructed {
		return logicErr("SetScalarDefault", "application already initialised")
	}
	tf.app.defaults[endpoint] = v
	return nil
}

// RunApplication initialises (if needed) and starts the application with
// the driver holding the scheduling lock, then lets the startup traffic
// (constants, initial device values) settle.
func (tf *TestFacility) RunApplication() error {
	a := tf.app
	if a.state == stateConstructed {
		if err := a.Initialise(); err != nil {
			return err
		}
	}
	a.scheduler.Lock(a.driverToken)
	if err := a.Run(); err != nil {
		a.scheduler.Unlock(a.driverToken)
		return err
	}
	// Drain startup propagation including device initialisation.
	if a.scheduler.CanStep() {
		return a.step(true)
	}
	return nil
}

// StepApplication lets all pending transfers propagate until the
// application is quiescent again. Fails with sched.ErrNothingPending when
// there is nothing to do, and with *sched.TestsStalledError on livelock.
func (tf *TestFacility) StepApplication(waitForDeviceInit bool) error {
	return tf.app.step(waitForDeviceInit)
}

func (a *Application) step(waitForDeviceInit bool) error {
	err := a.scheduler.Step(a.driverToken, waitForDeviceInit)
	if a.metrics != nil {
		a.metrics.RecordStep(sched.IsTestsStalled(err))
	}
	return err
}

// CanStepApplication reports whether pending transfers or device
// initialisation work exist.
func (tf *TestFacility) CanStepApplication() bool {
	return tf.app.scheduler.CanStep()
}

// WriteScalar pushes a value into a control-system-fed endpoint. The
// transfer stays pending until the next StepApplication.
func (tf *TestFacility) WriteScalar(name string, v variant.Value) error {
	pv, ok := tf.app.registry.Lookup(name)
	if !ok {
		return logicErr("WriteScalar", "unknown control system variable %q", name)
	}
	return pv.Write(v)
}

// WriteTransfer pushes a fully specified transfer, e.g. to inject faulty
// data.
func (tf *TestFacility) WriteTransfer(name string, t accessor.Transfer) error {
	pv, ok := tf.app.registry.Lookup(name)
	if !ok {
		return logicErr("WriteTransfer", "unknown control system variable %q", name)
	}
	return pv.WriteTransfer(t)
}

// ReadLatest drains an application-published endpoint and returns its
// newest value.
func (tf *TestFacility) ReadLatest(name string) (accessor.Transfer, error) {
	pv, ok := tf.app.registry.Lookup(name)
	if !ok {
		return accessor.Transfer{}, logicErr("ReadLatest", "unknown control system variable %q", name)
	}
	return pv.ReadLatest(), nil
}

// TryRead consumes exactly one pending update of an application-published
// endpoint.
func (tf *TestFacility) TryRead(name string) (accessor.Transfer, bool, error) {
	pv, ok := tf.app.registry.Lookup(name)
	if !ok {
		return accessor.Transfer{}, false, logicErr("TryRead", "unknown control system variable %q", name)
	}
	t, got := pv.TryRead()
	return t, got, nil
}

// Shutdown closes all endpoints, releases the driver lock so parked
// goroutines can finish, and waits for the application to stop.
func (tf *TestFacility) Shutdown() {
	a := tf.app
	if a.state != stateRunning {
		return
	}
	a.closeEndpoints()
	a.scheduler.Unlock(a.driverToken)
	a.waitAll()
	a.state = stateStopped
	a.logger.Info("application stopped")
}
