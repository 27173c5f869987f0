package gpio

import (
	"fmt"

	"github.com/cjeanneret/ArmCal/internal/debug"
)

// Button is a push button wired between a pin and GND, read through the
// internal pull-up: released reads High, pressed reads Low.
type Button struct {
	driver  Driver
	pin     int
	pressed bool
}

// NewButton configures pin as a pull-up input.
func NewButton(driver Driver, pin int) (*Button, error) {
	if err := driver.SetupPin(pin, InputPullUp); err != nil {
		return nil, fmt.Errorf("setup button pin %d: %w", pin, err)
	}
	return &Button{driver: driver, pin: pin}, nil
}

// Pressed reports true once per press, on the released->pressed edge.
// Holding the button does not fire again until it is released.
func (b *Button) Pressed() (bool, error) {
	level, err := b.driver.ReadPin(b.pin)
	if err != nil {
		return false, fmt.Errorf("read button pin %d: %w", b.pin, err)
	}
	down := level == Low
	fired := down && !b.pressed
	b.pressed = down
	if fired {
		debug.Live("Trigger button pressed (pin %d)", b.pin)
	}
	return fired, nil
}

// Indicator is an LED driven High when on.
type Indicator struct {
	driver Driver
	pin    int
}

// NewIndicator configures pin as an output and switches the LED off.
func NewIndicator(driver Driver, pin int) (*Indicator, error) {
	if err := driver.SetupPin(pin, Output); err != nil {
		return nil, fmt.Errorf("setup indicator pin %d: %w", pin, err)
	}
	ind := &Indicator{driver: driver, pin: pin}
	if err := ind.Set(false); err != nil {
		return nil, err
	}
	return ind, nil
}

// Set switches the LED on or off.
func (i *Indicator) Set(on bool) error {
	if err := i.driver.WritePin(i.pin, Level(on)); err != nil {
		return fmt.Errorf("write indicator pin %d: %w", i.pin, err)
	}
	return nil
}
