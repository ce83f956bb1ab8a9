package hal

import (
	"testing"
)

// =============================================================================
// Pin Tests
// =============================================================================

func TestPin_String(t *testing.T) {
	tests := []struct {
		pin  Pin
		want string
	}{
		{NoPin, "NC"},
		{Pin(0), "GPIO0"},
		{Pin(14), "GPIO14"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.pin.String(); got != tt.want {
				t.Errorf("Pin(%d).String() = %q, want %q", tt.pin, got, tt.want)
			}
		})
	}
}

// =============================================================================
// HostFlags Tests
// =============================================================================

func TestDefaultHostFlags(t *testing.T) {
	if DefaultHostFlags != 23 {
		t.Errorf("DefaultHostFlags = %d, want 23", DefaultHostFlags)
	}
	if !DefaultHostFlags.Has(Flag4Bit) {
		t.Error("DefaultHostFlags should support 4-bit bus")
	}
	if DefaultHostFlags.Has(FlagSPI) {
		t.Error("DefaultHostFlags should not be an SPI host")
	}
	if !DefaultHostFlags.Has(Flag1Bit | FlagDDR) {
		t.Error("DefaultHostFlags should support 1-bit DDR")
	}
}

func TestSlotConfig_DataPins(t *testing.T) {
	cfg := SlotConfig{
		Width: 4,
		D0:    2, D1: 4, D2: 12, D3: 13,
		D4: NoPin, D5: NoPin, D6: NoPin, D7: NoPin,
	}

	pins := cfg.DataPins()
	want := []Pin{2, 4, 12, 13}
	if len(pins) != len(want) {
		t.Fatalf("DataPins() len = %d, want %d", len(pins), len(want))
	}
	for i := range want {
		if pins[i] != want[i] {
			t.Errorf("DataPins()[%d] = %v, want %v", i, pins[i], want[i])
		}
	}
}

// =============================================================================
// DriveName Tests
// =============================================================================

func TestDriveName(t *testing.T) {
	for drv := uint8(0); drv <= MaxDriveIndex; drv++ {
		name := MakeDriveName(drv)
		idx, ok := name.Index()
		if !ok || idx != drv {
			t.Errorf("MakeDriveName(%d).Index() = %d, %v", drv, idx, ok)
		}
	}

	if MakeDriveName(0) != "0:" {
		t.Errorf("MakeDriveName(0) = %q, want \"0:\"", MakeDriveName(0))
	}

	invalid := []DriveName{"", "0", "a:", "10:", "0/", ":0"}
	for _, name := range invalid {
		if idx, ok := name.Index(); ok || idx != NoDrive {
			t.Errorf("DriveName(%q).Index() = %d, %v; want NoDrive, false", name, idx, ok)
		}
	}
}

// =============================================================================
// Card Tests
// =============================================================================

func TestCard_Size(t *testing.T) {
	card := Card{CSD: CSD{Capacity: 1_000_000, SectorSize: 512}}
	if got := card.Size(); got != 512_000_000 {
		t.Errorf("Size() = %d, want 512000000", got)
	}

	// 64 GiB card overflows 32 bits.
	big := Card{CSD: CSD{Capacity: 134_217_728, SectorSize: 512}}
	if got := big.Size(); got != 68_719_476_736 {
		t.Errorf("Size() = %d, want 68719476736", got)
	}
}

func TestCID_ProductName(t *testing.T) {
	cid := CID{Name: [8]byte{'S', 'D', '1', '6', 'G', 0, 0, 0}}
	if got := cid.ProductName(); got != "SD16G" {
		t.Errorf("ProductName() = %q, want \"SD16G\"", got)
	}
}

func TestFATFS_Mounted(t *testing.T) {
	var nilFS *FATFS
	if nilFS.Mounted() {
		t.Error("nil FATFS should not be mounted")
	}
	fs := &FATFS{}
	if fs.Mounted() {
		t.Error("zero FATFS should not be mounted")
	}
	fs.FSType = FSFAT16
	if !fs.Mounted() {
		t.Error("FAT16 FATFS should be mounted")
	}
}

// =============================================================================
// Heap Tests
// =============================================================================

func TestHeap_AllocFree(t *testing.T) {
	h := NewHeap(2)

	a := h.Alloc()
	b := h.Alloc()
	if a == nil || b == nil {
		t.Fatal("Alloc() returned nil below limit")
	}
	if c := h.Alloc(); c != nil {
		t.Error("Alloc() should return nil at limit")
	}
	if h.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", h.InUse())
	}
	if h.BytesInUse() != 2*CardSize {
		t.Errorf("BytesInUse() = %d, want %d", h.BytesInUse(), 2*CardSize)
	}

	h.Free(a)
	h.Free(a) // double free is ignored
	h.Free(nil)
	if h.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", h.InUse())
	}

	h.Free(b)
	if h.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0", h.InUse())
	}
}

func TestHeap_SetLimit(t *testing.T) {
	h := NewHeap(0)
	for i := 0; i < 4; i++ {
		if h.Alloc() == nil {
			t.Fatal("unlimited heap returned nil")
		}
	}
	h.SetLimit(4)
	if h.Alloc() != nil {
		t.Error("Alloc() should fail once limit is reached")
	}
}

func TestHeap_AllocZeroed(t *testing.T) {
	h := NewHeap(0)
	card := h.Alloc()
	if *card != (Card{}) {
		t.Error("Alloc() returned a non-zero record")
	}
}
