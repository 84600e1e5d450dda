// Package ndmpproxy implements the localhost proxy demultiplexer that
// fronts the NDMP tape agent for the three client-side proxy channels
// (device, application, changer), speaking the wire protocol defined by
// pkg/ipcbinary.
package ndmpproxy

import "github.com/amanda-backup/ndmp-ipc/pkg/ipcbinary"

// Command IDs, matching ndmp-proxy.h's NDMP_PROXY_CMD_*/NDMP_PROXY_REPLY_*
// enum.
const (
	CmdSelectService uint16 = 1
	CmdReplyGeneric  uint16 = 2
	CmdTapeOpen      uint16 = 3
	CmdTapeClose     uint16 = 4
	CmdTapeMTIO      uint16 = 5
	CmdTapeWrite     uint16 = 6
	CmdTapeRead      uint16 = 7
	CmdReplyTapeRead uint16 = 8
)

// Argument IDs, matching ndmp-proxy.h's NDMP_PROXY_* enum.
const (
	ArgFilename uint16 = 1
	ArgMode     uint16 = 2
	ArgHost     uint16 = 3
	ArgPort     uint16 = 4
	ArgErrCode  uint16 = 5
	ArgError    uint16 = 6
	ArgCommand  uint16 = 7
	ArgCount    uint16 = 8
	ArgData     uint16 = 9
	ArgService  uint16 = 10
	ArgUsername uint16 = 11
	ArgPassword uint16 = 12
)

// Magic is the proxy protocol's magic number (0xC74F), matching
// ipc_binary_proto_new(0xC74F) in get_ndmp_proxy_proto.
const Magic = 0xC74F

// Service names accepted by SELECT_SERVICE.
const (
	ServiceDevice      = "DEVICE"
	ServiceApplication = "APPLICATION"
	ServiceChanger     = "CHANGER"
)

// MTIO commands accepted by TAPE_MTIO.
const (
	MTIORewind = "REWIND"
	MTIOEOF    = "EOF"
)

// Error codes used in generic replies, stringified NDMP9 error names as in
// the original's ndmp9_error_to_str.
const (
	ErrIllegalArgs      = "NDMP9_ILLEGAL_ARGS_ERR"
	ErrDeviceBusy       = "NDMP9_DEVICE_BUSY_ERR"
	ErrClassNotSupp     = "NDMP9_CLASS_NOT_SUPPORTED_ERR"
	ErrIOErr            = "NDMP9_IO_ERR" // available for TapeBackend implementations reporting transport failures
	ErrNoDeviceErr      = "NDMP9_NO_DEVICE_ERR"
	ErrNotAuthorizedErr = "NDMP9_NOT_AUTHORIZED_ERR" // available for TapeBackend implementations reporting credential failures
)

// Protocol returns the ndmp-proxy wire protocol table, built fresh on each
// call since ipcbinary.Protocol carries no mutable state once constructed.
func Protocol() *ipcbinary.Protocol {
	p := ipcbinary.NewProtocol(Magic)

	p.AddCmd(CmdSelectService).
		AddArg(ArgService, ipcbinary.String)

	p.AddCmd(CmdReplyGeneric).
		AddArg(ArgErrCode, ipcbinary.String|ipcbinary.Optional).
		AddArg(ArgError, ipcbinary.String|ipcbinary.Optional)

	p.AddCmd(CmdTapeOpen).
		AddArg(ArgFilename, ipcbinary.String).
		AddArg(ArgMode, ipcbinary.String).
		AddArg(ArgHost, ipcbinary.String).
		AddArg(ArgPort, ipcbinary.String).
		AddArg(ArgUsername, ipcbinary.String).
		AddArg(ArgPassword, ipcbinary.String)
	// ndmp-proxy gives a generic reply

	p.AddCmd(CmdTapeClose)
	// ndmp-proxy gives a generic reply

	p.AddCmd(CmdTapeMTIO).
		AddArg(ArgCommand, ipcbinary.String).
		AddArg(ArgCount, ipcbinary.String)
	// ndmp-proxy gives a generic reply

	p.AddCmd(CmdTapeWrite).
		AddArg(ArgData, 0)
	// ndmp-proxy gives a generic reply

	p.AddCmd(CmdTapeRead).
		AddArg(ArgCount, ipcbinary.String)

	p.AddCmd(CmdReplyTapeRead).
		AddArg(ArgData, ipcbinary.Optional).
		AddArg(ArgErrCode, ipcbinary.String|ipcbinary.Optional).
		AddArg(ArgError, ipcbinary.String|ipcbinary.Optional)

	return p
}
