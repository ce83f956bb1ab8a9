package bus

// NumPins is the number of lines in a 4-bit bus: clock, command and four
// data lines.
const NumPins = 6

// Width is the data bus width in lines.
const Width = 4
