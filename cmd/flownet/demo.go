package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/app"
	"github.com/dd0wney/cluso-flownet/pkg/config"
	"github.com/dd0wney/cluso-flownet/pkg/device"
	"github.com/dd0wney/cluso-flownet/pkg/hierarchy"
	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/metrics"
	"github.com/dd0wney/cluso-flownet/pkg/module"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// runDemo builds a small temperature control loop: a simulated oven
// exposes a temperature register, a controller module compares it against
// an operator setpoint and writes a heater power back to the device.
func runDemo(cfgPath string) error {
	logger := logging.DefaultLogger()

	defaults := map[string]variant.Value{}
	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
		values, err := cfg.Values()
		if err != nil {
			return err
		}
		defaults = values
	}

	reg := metrics.DefaultRegistry()
	a := app.New("oven-demo",
		app.WithLogger(logger),
		app.WithMetrics(reg),
		app.WithDefaults(defaults),
	)

	oven := device.NewDemoBackend("oven",
		device.RegisterInfo{Path: "temperature", Type: variant.TypeFloat64, NElements: 1, Mode: accessor.Poll},
		device.RegisterInfo{Path: "heater", Type: variant.TypeFloat64, NElements: 1, Mode: accessor.Poll},
	)
	if _, err := a.AddDevice("oven", oven); err != nil {
		return err
	}

	controller := buildController(logger)
	if err := a.AddModule(hierarchy.RootIndex, controller); err != nil {
		return err
	}
	timer := buildTimer(logger, 500*time.Millisecond)
	if err := a.AddModule(hierarchy.RootIndex, timer); err != nil {
		return err
	}

	// Operator setpoint comes from the control system.
	setpointCS := a.ControlSystemNode("/oven/setpoint", accessor.Feeding, variant.TypeFloat64, 1, "degC")
	if err := a.Connect(setpointCS, controller.Inputs()[0].Node()); err != nil {
		return err
	}

	// The temperature register is polled on every timer tick.
	tempNode, err := a.DeviceNode("oven", "temperature", accessor.Feeding, accessor.Poll,
		variant.TypeFloat64, 1, "degC")
	if err != nil {
		return err
	}
	if err := a.Connect(tempNode, controller.Inputs()[1].Node()); err != nil {
		return err
	}
	if err := a.TriggerBy(tempNode, timer.Outputs()[0].Node()); err != nil {
		return err
	}

	// Heater power goes to the device and is mirrored to the operator.
	heaterNode, err := a.DeviceNode("oven", "heater", accessor.Consuming, accessor.Push,
		variant.TypeFloat64, 1, "%")
	if err != nil {
		return err
	}
	if err := a.Connect(controller.Outputs()[0].Node(), heaterNode); err != nil {
		return err
	}
	heaterCS := a.ControlSystemNode("/oven/heater_readback", accessor.Consuming, variant.TypeFloat64, 1, "%")
	if err := a.Connect(controller.Outputs()[0].Node(), heaterCS); err != nil {
		return err
	}

	if err := a.Initialise(); err != nil {
		return err
	}
	if err := a.Run(); err != nil {
		return err
	}

	fmt.Println("oven-demo running, Ctrl-C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	a.Shutdown()
	return nil
}

// buildController creates a proportional controller with a setpoint input,
// a temperature input and a heater power output.
func buildController(logger logging.Logger) *module.ApplicationModule {
	m := module.New("Controller", "proportional oven temperature controller", "demo")
	setpoint := m.ScalarPushInput("setpoint", variant.TypeFloat64, "degC")
	temperature := m.ScalarPushInput("temperature", variant.TypeFloat64, "degC")
	heater := m.ScalarOutput("heaterPower", variant.TypeFloat64, "%")

	const gain = 5.0
	m.MainLoop = func() {
		group := module.NewReadAnyGroup(setpoint, temperature)
		var want, have float64
		for {
			in, ok := group.ReadAny()
			if !ok {
				return
			}
			v, err := in.Value().ScalarFloat64()
			if err != nil {
				logger.Error("unexpected controller input", logging.Error(err))
				continue
			}
			switch in {
			case setpoint:
				want = v
			case temperature:
				have = v
			}
			power := gain * (want - have)
			if power < 0 {
				power = 0
			}
			if power > 100 {
				power = 100
			}
			heater.Write(variant.Float64s(power))
		}
	}
	return m
}

// buildTimer creates a module pulsing a void trigger output periodically.
// Its pace input doubles as the shutdown signal: the queue closes when the
// application stops.
func buildTimer(logger logging.Logger, period time.Duration) *module.ApplicationModule {
	m := module.New("Timer", "periodic trigger source", "demo")
	tick := m.TriggerOutput("tick")
	pace := m.ScalarPushInput("period_ms", variant.TypeInt64, "ms")

	m.MainLoop = func() {
		logger.Info("timer started", logging.Duration("period", period))
		for {
			time.Sleep(period)
			tick.Trigger()
			if v, ok := pace.ReadNonBlocking(); ok {
				if ms, err := v.ScalarInt64(); err == nil && ms > 0 {
					period = time.Duration(ms) * time.Millisecond
				}
			} else if q, isQueue := pace.Receiver().Queue().(*accessor.Queue); isQueue && q.Closed() {
				return
			}
		}
	}
	return m
}
