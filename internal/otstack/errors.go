package otstack

import "fmt"

// Error is a numeric stack status. Zero means success.
type Error uint8

const (
	ErrorNone                       Error = 0
	ErrorFailed                     Error = 1
	ErrorDrop                       Error = 2
	ErrorNoBufs                     Error = 3
	ErrorNoRoute                    Error = 4
	ErrorBusy                       Error = 5
	ErrorParse                      Error = 6
	ErrorInvalidArgs                Error = 7
	ErrorSecurity                   Error = 8
	ErrorAddressQuery               Error = 9
	ErrorNoAddress                  Error = 10
	ErrorAbort                      Error = 11
	ErrorNotImplemented             Error = 12
	ErrorInvalidState               Error = 13
	ErrorNoAck                      Error = 14
	ErrorChannelAccessFailure       Error = 15
	ErrorDetached                   Error = 16
	ErrorFCS                        Error = 17
	ErrorNoFrameReceived            Error = 18
	ErrorUnknownNeighbor            Error = 19
	ErrorInvalidSourceAddress       Error = 20
	ErrorAddressFiltered            Error = 21
	ErrorDestinationAddressFiltered Error = 22
	ErrorNotFound                   Error = 23
	ErrorAlready                    Error = 24
	ErrorIP6AddressCreationFailure  Error = 26
	ErrorNotCapable                 Error = 27
	ErrorResponseTimeout            Error = 28
	ErrorDuplicated                 Error = 29
	ErrorReassemblyTimeout          Error = 30
	ErrorNotTmf                     Error = 31
	ErrorNotLowpanDataFrame         Error = 32
	ErrorLinkMarginLow              Error = 34
	ErrorGeneric                    Error = 255
)

var errorNames = map[Error]string{
	ErrorNone:                       "OK",
	ErrorFailed:                     "Failed",
	ErrorDrop:                       "Drop",
	ErrorNoBufs:                     "NoBufs",
	ErrorNoRoute:                    "NoRoute",
	ErrorBusy:                       "Busy",
	ErrorParse:                      "Parse",
	ErrorInvalidArgs:                "InvalidArgs",
	ErrorSecurity:                   "Security",
	ErrorAddressQuery:               "AddressQuery",
	ErrorNoAddress:                  "NoAddress",
	ErrorAbort:                      "Abort",
	ErrorNotImplemented:             "NotImplemented",
	ErrorInvalidState:               "InvalidState",
	ErrorNoAck:                      "NoAck",
	ErrorChannelAccessFailure:       "ChannelAccessFailure",
	ErrorDetached:                   "Detached",
	ErrorFCS:                        "FcsErr",
	ErrorNoFrameReceived:            "NoFrameReceived",
	ErrorUnknownNeighbor:            "UnknownNeighbor",
	ErrorInvalidSourceAddress:       "InvalidSourceAddress",
	ErrorAddressFiltered:            "AddressFiltered",
	ErrorDestinationAddressFiltered: "DestinationAddressFiltered",
	ErrorNotFound:                   "NotFound",
	ErrorAlready:                    "Already",
	ErrorIP6AddressCreationFailure:  "Ipv6AddressCreationFailure",
	ErrorNotCapable:                 "NotCapable",
	ErrorResponseTimeout:            "ResponseTimeout",
	ErrorDuplicated:                 "Duplicated",
	ErrorReassemblyTimeout:          "ReassemblyTimeout",
	ErrorNotTmf:                     "NotTmf",
	ErrorNotLowpanDataFrame:         "NonLowpanDataFrame",
	ErrorLinkMarginLow:              "LinkMarginLow",
	ErrorGeneric:                    "GenericError",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error %d", uint8(e))
}

// ErrorFromName maps the name printed by the stack CLI back to its code.
func ErrorFromName(name string) (Error, bool) {
	for code, n := range errorNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}
