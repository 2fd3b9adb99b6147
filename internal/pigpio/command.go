package pigpio

import (
	"fmt"
	"strings"
)

// Command is a daemon command code as it appears in the first header field.
type Command uint32

// Supported daemon commands.
const (
	CmdModeSet      Command = 0  // MODES
	CmdModeGet      Command = 1  // MODEG
	CmdPullUpDown   Command = 2  // PUD
	CmdRead         Command = 3  // READ
	CmdWrite        Command = 4  // WRITE
	CmdPWM          Command = 5  // PWM
	CmdPWMRange     Command = 6  // PRS
	CmdPWMFrequency Command = 7  // PFS
	CmdServo        Command = 8  // SERVO
	CmdWatchdog     Command = 9  // WDOG
	CmdReadBank1    Command = 10 // BR1
	CmdReadBank2    Command = 11 // BR2
	CmdClearBank1   Command = 12 // BC1
	CmdClearBank2   Command = 13 // BC2
	CmdSetBank1     Command = 14 // BS1
	CmdSetBank2     Command = 15 // BS2
	CmdTick         Command = 16 // TICK
	CmdHardwareRev  Command = 17 // HWVER
	CmdNotifyOpen   Command = 18 // NO
	CmdNotifyBegin  Command = 19 // NB
	CmdNotifyPause  Command = 20 // NP
	CmdNotifyClose  Command = 21 // NC
	CmdVersion      Command = 26 // PIGPV

	CmdI2COpen           Command = 54 // I2CO
	CmdI2CClose          Command = 55 // I2CC
	CmdI2CReadDevice     Command = 56 // I2CRD
	CmdI2CWriteDevice    Command = 57 // I2CWD
	CmdI2CWriteQuick     Command = 58 // I2CWQ
	CmdI2CReadByte       Command = 59 // I2CRS
	CmdI2CWriteByte      Command = 60 // I2CWS
	CmdI2CReadByteData   Command = 61 // I2CRB
	CmdI2CWriteByteData  Command = 62 // I2CWB
	CmdI2CReadWordData   Command = 63 // I2CRW
	CmdI2CWriteWordData  Command = 64 // I2CWW
	CmdI2CReadBlockData  Command = 65 // I2CRK
	CmdI2CWriteBlockData Command = 66 // I2CWK
	CmdI2CReadI2CBlock   Command = 67 // I2CRI
	CmdI2CWriteI2CBlock  Command = 68 // I2CWI

	CmdSPIOpen  Command = 71 // SPIO
	CmdSPIClose Command = 72 // SPIC
	CmdSPIRead  Command = 73 // SPIR
	CmdSPIWrite Command = 74 // SPIW
	CmdSPIXfer  Command = 75 // SPIX

	CmdSerialOpen      Command = 76 // SERO
	CmdSerialClose     Command = 77 // SERC
	CmdSerialReadByte  Command = 78 // SERRB
	CmdSerialWriteByte Command = 79 // SERWB
	CmdSerialRead      Command = 80 // SERR
	CmdSerialWrite     Command = 81 // SERW
	CmdSerialDataAvail Command = 82 // SERDA

	CmdNotifyOpenInBand Command = 99 // NOIB
)

var commandNames = map[Command]string{
	CmdModeSet:           "MODES",
	CmdModeGet:           "MODEG",
	CmdPullUpDown:        "PUD",
	CmdRead:              "READ",
	CmdWrite:             "WRITE",
	CmdPWM:               "PWM",
	CmdPWMRange:          "PRS",
	CmdPWMFrequency:      "PFS",
	CmdServo:             "SERVO",
	CmdWatchdog:          "WDOG",
	CmdReadBank1:         "BR1",
	CmdReadBank2:         "BR2",
	CmdClearBank1:        "BC1",
	CmdClearBank2:        "BC2",
	CmdSetBank1:          "BS1",
	CmdSetBank2:          "BS2",
	CmdTick:              "TICK",
	CmdHardwareRev:       "HWVER",
	CmdNotifyOpen:        "NO",
	CmdNotifyBegin:       "NB",
	CmdNotifyPause:       "NP",
	CmdNotifyClose:       "NC",
	CmdVersion:           "PIGPV",
	CmdI2COpen:           "I2CO",
	CmdI2CClose:          "I2CC",
	CmdI2CReadDevice:     "I2CRD",
	CmdI2CWriteDevice:    "I2CWD",
	CmdI2CWriteQuick:     "I2CWQ",
	CmdI2CReadByte:       "I2CRS",
	CmdI2CWriteByte:      "I2CWS",
	CmdI2CReadByteData:   "I2CRB",
	CmdI2CWriteByteData:  "I2CWB",
	CmdI2CReadWordData:   "I2CRW",
	CmdI2CWriteWordData:  "I2CWW",
	CmdI2CReadBlockData:  "I2CRK",
	CmdI2CWriteBlockData: "I2CWK",
	CmdI2CReadI2CBlock:   "I2CRI",
	CmdI2CWriteI2CBlock:  "I2CWI",
	CmdSPIOpen:           "SPIO",
	CmdSPIClose:          "SPIC",
	CmdSPIRead:           "SPIR",
	CmdSPIWrite:          "SPIW",
	CmdSPIXfer:           "SPIX",
	CmdSerialOpen:        "SERO",
	CmdSerialClose:       "SERC",
	CmdSerialReadByte:    "SERRB",
	CmdSerialWriteByte:   "SERWB",
	CmdSerialRead:        "SERR",
	CmdSerialWrite:       "SERW",
	CmdSerialDataAvail:   "SERDA",
	CmdNotifyOpenInBand:  "NOIB",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for cmd, name := range commandNames {
		m[name] = cmd
	}
	return m
}()

// String returns the daemon mnemonic, e.g. "PIGPV".
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD(%d)", uint32(c))
}

// Valid reports whether c is part of the supported command set.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// HasResponseExtension reports whether the response length of c is
// carried in P3. Only the two bulk I2C reads do this; every other
// command's trailing bytes are whatever the stream already holds.
func (c Command) HasResponseExtension() bool {
	return c == CmdI2CReadDevice || c == CmdI2CReadI2CBlock
}

// ParseCommand resolves a mnemonic ("br1", "PIGPV") to its command code.
func ParseCommand(name string) (Command, error) {
	if cmd, ok := commandsByName[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return cmd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
