package tracelog

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one traced packet. CBOR encoding uses integer keys for
// compactness.
type Record struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint"`
	Direction string    `cbor:"3,keyasint"`
	Command   string    `cbor:"4,keyasint"`
	Code      uint32    `cbor:"5,keyasint"`
	P1        int32     `cbor:"6,keyasint"`
	P2        int32     `cbor:"7,keyasint"`
	P3        int32     `cbor:"8,keyasint"`
	Data      []byte    `cbor:"9,keyasint,omitempty"`
	Error     string    `cbor:"10,keyasint,omitempty"`
}

// String renders the record on one line for console output.
func (r Record) String() string {
	s := fmt.Sprintf("%s %s %-2s %s p1=%d p2=%d p3=%d",
		r.Timestamp.Format("15:04:05.000000"), r.SessionID, r.Direction, r.Command, r.P1, r.P2, r.P3)
	if len(r.Data) > 0 {
		s += fmt.Sprintf(" data=% x", r.Data)
	}
	if r.Error != "" {
		s += " error=" + r.Error
	}
	return s
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("tracelog: CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("tracelog: CBOR decoder mode: %v", err))
	}
}

// EncodeRecord encodes a record to CBOR.
func EncodeRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// DecodeRecord decodes a single CBOR record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
