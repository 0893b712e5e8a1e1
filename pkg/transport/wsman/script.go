package wsman

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmharte/secprobe/pkg/transport"
)

// The remote side of this transport is a short PowerShell script per
// query. Each script writes exactly one JSON envelope to stdout:
//
//	{ "ok": true,  "rows": [...] }            class query
//	{ "ok": true,  "value": 1 }               registry read
//	{ "ok": false, "code": "0x8004100E", "message": "..." }
//
// WMI datetime properties arrive as DMTF strings and are parsed on
// the Go side.

// psQuote escapes s for a single-quoted PowerShell string literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// queryScript builds the script for one class instance query.
func queryScript(namespace, class string, fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = psQuote(f)
	}
	list := strings.Join(quoted, ",")

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("try {\n")
	fmt.Fprintf(&b, "    $rows = @(Get-WmiObject -Namespace %s -Class %s -Property %s -ErrorAction Stop | Select-Object %s)\n",
		psQuote(namespace), psQuote(class), list, list)
	b.WriteString("    @{ ok = $true; rows = $rows } | ConvertTo-Json -Compress -Depth 4\n")
	b.WriteString("} catch [System.Management.ManagementException] {\n")
	b.WriteString("    @{ ok = $false; code = ('0x{0:X8}' -f [int]$_.Exception.ErrorCode); message = $_.Exception.Message } | ConvertTo-Json -Compress\n")
	b.WriteString("} catch {\n")
	b.WriteString("    @{ ok = $false; code = ('0x{0:X8}' -f [int]$_.Exception.HResult); message = $_.Exception.Message } | ConvertTo-Json -Compress\n")
	b.WriteString("}\n")
	return b.String()
}

// regScript builds the script for one DWORD read under HKLM.
func regScript(path, name string) string {
	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("try {\n")
	fmt.Fprintf(&b, "    $item = Get-ItemProperty -Path ('HKLM:\\' + %s) -Name %s -ErrorAction Stop\n",
		psQuote(path), psQuote(name))
	fmt.Fprintf(&b, "    @{ ok = $true; value = [int64]$item.%s } | ConvertTo-Json -Compress\n", psQuote(name))
	b.WriteString("} catch {\n")
	b.WriteString("    @{ ok = $false; code = ('0x{0:X8}' -f [int]$_.Exception.HResult); message = $_.Exception.Message } | ConvertTo-Json -Compress\n")
	b.WriteString("}\n")
	return b.String()
}

// envelope is the one JSON document every script emits.
type envelope struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Rows    json.RawMessage `json:"rows"`
	Value   *int64          `json:"value"`
}

// parseEnvelope decodes a script's stdout.
func parseEnvelope(out string) (*envelope, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, fmt.Errorf("empty response")
	}
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		return nil, fmt.Errorf("malformed response %q: %w", truncate(out, 120), err)
	}
	return &env, nil
}

// rows decodes the envelope's row set. ConvertTo-Json collapses a
// single element to a bare object on some hosts, so both shapes are
// accepted.
func (e *envelope) rows() ([]transport.Object, error) {
	if len(e.Rows) == 0 || string(e.Rows) == "null" {
		return nil, nil
	}
	var list []transport.Object
	if err := json.Unmarshal(e.Rows, &list); err == nil {
		return list, nil
	}
	var single transport.Object
	if err := json.Unmarshal(e.Rows, &single); err != nil {
		return nil, fmt.Errorf("malformed rows: %w", err)
	}
	return []transport.Object{single}, nil
}

// statusCode converts the envelope's hex code string to a CIM status
// code. Zero when absent or unparseable.
func (e *envelope) statusCode() uint32 {
	s := strings.TrimPrefix(strings.TrimSpace(e.Code), "0x")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
