package dht

import "time"

// State is a step of the read sequence.
type State uint8

const (
	Idle State = iota
	HostStart
	HostRelease
	AwaitSensorLow
	AwaitSensorHigh
	AwaitSensorReleaseLow
	BitSample
	ChecksumVerify
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HostStart:
		return "host_start"
	case HostRelease:
		return "host_release"
	case AwaitSensorLow:
		return "await_sensor_low"
	case AwaitSensorHigh:
		return "await_sensor_high"
	case AwaitSensorReleaseLow:
		return "await_sensor_release_low"
	case BitSample:
		return "bit_sample"
	case ChecksumVerify:
		return "checksum_verify"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// receive runs the handshake and fills f with 40 sampled bits. It does not
// verify the checksum.
func (d *Device) receive(f *Frame) (err error) {
	defer func() {
		if err != nil {
			_ = d.pin.Input()
		}
	}()

	d.state = HostStart
	if err := d.pin.Low(); err != nil {
		return d.pinErr("low", err)
	}
	d.delay.Delay(d.variant.StartSignal())

	return d.sample(f)
}

// sample is the timing-critical part, from releasing the line to the last
// bit. Interrupts stay masked for exactly this window.
func (d *Device) sample(f *Frame) error {
	d.irq.DisableInterrupts()
	defer d.irq.EnableInterrupts()

	d.state = HostRelease
	if err := d.pin.High(); err != nil {
		return d.pinErr("high", err)
	}
	if err := d.pin.Input(); err != nil {
		return d.pinErr("input", err)
	}
	d.delay.Delay(releaseSettle)

	// Acknowledge: ~80 µs low, ~80 µs high, then the first bit's low.
	d.state = AwaitSensorLow
	if _, err := d.waitFor(false, -1); err != nil {
		return err
	}
	d.state = AwaitSensorHigh
	if _, err := d.waitFor(true, -1); err != nil {
		return err
	}
	d.state = AwaitSensorReleaseLow
	if _, err := d.waitFor(false, -1); err != nil {
		return err
	}

	d.state = BitSample
	for bit := 0; bit < frameBits; bit++ {
		if _, err := d.waitFor(true, bit); err != nil {
			return err
		}
		high, err := d.waitFor(false, bit)
		if err != nil {
			return err
		}
		if high >= BitThreshold {
			f[bit/8] |= 1 << (7 - bit%8)
		}
	}
	return nil
}

// waitFor polls until the line reads level and returns the time spent, in
// poll steps. bit is -1 outside the data phase.
func (d *Device) waitFor(level bool, bit int) (time.Duration, error) {
	for elapsed := time.Duration(0); elapsed <= MaxWait; elapsed += pollStep {
		v, err := d.pin.Get()
		if err != nil {
			return elapsed, d.pinErr("get", err)
		}
		if v == level {
			return elapsed, nil
		}
		d.delay.Delay(pollStep)
	}
	return MaxWait, &TimeoutError{State: d.state, Bit: bit}
}

func (d *Device) pinErr(op string, err error) error {
	return &PinError{State: d.state, Op: op, Err: err}
}
