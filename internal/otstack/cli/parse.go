package cli

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"otbr-gateway/internal/hexcodec"
	"otbr-gateway/internal/otstack"
)

// parseTable reads a CLI table: a "| a | b |" header, a "+---+" rule and
// one row per entry. Rows are keyed by the trimmed header names.
func parseTable(lines []string) []map[string]string {
	var header []string
	var rows []map[string]string
	for _, line := range lines {
		if strings.HasPrefix(line, "+") {
			continue
		}
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitRow(line)
		if header == nil {
			header = cells
			continue
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(cells) {
				row[name] = cells[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func splitRow(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseFields reads "Key: value" lines.
func parseFields(lines []string) map[string]string {
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("ot-cli: parse %q: %w", s, err)
	}
	return v, nil
}

// parseHex16 reads a 16-bit value printed as "0xface" or "face".
func parseHex16(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("ot-cli: parse %q: %w", s, err)
	}
	return uint16(v), nil
}

func parseInt8(s string) int8 {
	v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 8)
	return int8(v)
}

func parseMode(s string) (otstack.LinkMode, error) {
	if s == "-" {
		return otstack.LinkMode{}, nil
	}
	return otstack.ParseLinkMode(s)
}

func formatMode(m otstack.LinkMode) string {
	if s := m.String(); s != "" {
		return s
	}
	return "-"
}

var commissionerStates = map[string]otstack.CommissionerState{
	"disabled":    otstack.CommissionerDisabled,
	"petition":    otstack.CommissionerPetition,
	"petitioning": otstack.CommissionerPetition,
	"active":      otstack.CommissionerActive,
}

func parseCommissionerState(s string) (otstack.CommissionerState, bool) {
	st, ok := commissionerStates[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

var joinerEvents = map[string]otstack.JoinerEventType{
	"start":     otstack.JoinerStart,
	"connected": otstack.JoinerConnected,
	"finalize":  otstack.JoinerFinalize,
	"end":       otstack.JoinerEnd,
	"removed":   otstack.JoinerRemoved,
}

// parseJoinerLine decodes "Joiner <event> <id>".
func parseJoinerLine(line string) (otstack.JoinerEvent, bool) {
	f := strings.Fields(line)
	if len(f) != 3 || f[0] != "Joiner" {
		return otstack.JoinerEvent{}, false
	}
	typ, ok := joinerEvents[f[1]]
	if !ok {
		return otstack.JoinerEvent{}, false
	}
	id, err := hexcodec.DecodeArray8(f[2])
	if err != nil {
		return otstack.JoinerEvent{}, false
	}
	return otstack.JoinerEvent{Type: typ, JoinerID: id}, true
}

// parseDiagnosticLine decodes "DIAG_GET.rsp/ans from <addr>: <hex tlvs>".
func parseDiagnosticLine(line string) (otstack.DiagnosticResponse, error) {
	rest := strings.TrimPrefix(line, "DIAG_GET.rsp/ans from ")
	i := strings.LastIndex(rest, ": ")
	if i < 0 {
		return otstack.DiagnosticResponse{}, fmt.Errorf("no payload separator")
	}
	peer, err := netip.ParseAddr(rest[:i])
	if err != nil {
		return otstack.DiagnosticResponse{}, err
	}
	payload := strings.TrimSpace(rest[i+2:])
	buf := make([]byte, len(payload)/2)
	n, err := hexcodec.Decode(buf, payload)
	if err != nil {
		return otstack.DiagnosticResponse{}, err
	}
	tlvs, err := otstack.ParseDiagnosticTLVs(buf[:n])
	if err != nil {
		return otstack.DiagnosticResponse{}, err
	}
	return otstack.DiagnosticResponse{Peer: peer, TLVs: tlvs}, nil
}

// escapeArg escapes backslashes and spaces so a value stays one CLI argument.
func escapeArg(s string) string {
	return argEscaper.Replace(s)
}

var argEscaper = strings.NewReplacer(`\`, `\\`, " ", `\ `)

// validArg reports whether s holds no control bytes. The CLI ends a command
// on CR or LF, so such a byte would start a second command.
func validArg(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return false
		}
	}
	return true
}
