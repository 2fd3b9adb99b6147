package pigpio

import (
	"reflect"
	"testing"
)

func TestHandleRegistry(t *testing.T) {
	r := NewHandleRegistry()

	r.Add(HandleSerial, 1)
	r.Add(HandleI2C, 5)
	r.Add(HandleI2C, 2)
	r.Add(HandleSPI, 0)
	r.Add(HandleI2C, 2) // duplicate

	want := []Handle{
		{Kind: HandleI2C, ID: 2},
		{Kind: HandleI2C, ID: 5},
		{Kind: HandleSPI, ID: 0},
		{Kind: HandleSerial, ID: 1},
	}
	if got := r.Handles(); !reflect.DeepEqual(got, want) {
		t.Errorf("Handles() = %v, want %v", got, want)
	}

	r.Remove(HandleI2C, 5)
	r.Remove(HandleSPI, 99) // unknown
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestHandleKindCloseCommand(t *testing.T) {
	tests := []struct {
		kind HandleKind
		want Command
		name string
	}{
		{HandleI2C, CmdI2CClose, "i2c"},
		{HandleSPI, CmdSPIClose, "spi"},
		{HandleSerial, CmdSerialClose, "serial"},
	}

	for _, tt := range tests {
		if got := tt.kind.CloseCommand(); got != tt.want {
			t.Errorf("%s.CloseCommand() = %s, want %s", tt.name, got, tt.want)
		}
		if got := tt.kind.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
	}
}
