// Package bus claims the signal lines of a 4-bit SD bus.
//
// A [Binding] holds the clock, command and four data lines for as long as
// a card session needs them. [Bind] either claims all six lines or none:
// when one claim fails, the lines claimed before it are released before
// the error is returned.
//
//	b, err := bus.Bind(gpio, bus.DefaultPinSet())
//	if err != nil {
//	    return err
//	}
//	defer b.Release()
package bus
