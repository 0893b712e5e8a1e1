package probe

import (
	"time"

	"github.com/jmharte/secprobe/pkg/transport"
)

// Record is the aggregated security status of one probed host.
// Immutable once returned by the prober; every field other than Host
// starts unknown and is only set by a successful query.
type Record struct {
	Host string `json:"host"`

	AntivirusEnabled              Field[bool]      `json:"antivirusEnabled"`
	AntivirusSignatureLastUpdated Field[time.Time] `json:"antivirusSignatureLastUpdated"`
	AntimalwareServiceEnabled     Field[bool]      `json:"antimalwareServiceEnabled"`
	OnAccessProtectionEnabled     Field[bool]      `json:"onAccessProtectionEnabled"`
	RealTimeProtectionEnabled     Field[bool]      `json:"realTimeProtectionEnabled"`
	AntispywareEnabled            Field[bool]      `json:"antispywareEnabled"`
	BehaviorMonitorEnabled        Field[bool]      `json:"behaviorMonitorEnabled"`
	OfficeProtectionEnabled       Field[bool]      `json:"officeProtectionEnabled"`
	NetworkInspectionEnabled      Field[bool]      `json:"networkInspectionEnabled"`

	AntispywareProductName Field[string] `json:"antispywareProductName"`
	AntivirusProductName   Field[string] `json:"antivirusProductName"`
	FirewallProductName    Field[string] `json:"firewallProductName"`

	FirewallDomainProfileEnabled Field[int64] `json:"firewallDomainProfileEnabled"`
}

// NewRecord creates a Record for host with every optional field
// unknown.
func NewRecord(host string) *Record {
	return &Record{Host: host}
}

// applyAntimalware maps one MSFT_MpComputerStatus row onto the
// record's antimalware fields. Properties missing from the row leave
// their field untouched.
func (r *Record) applyAntimalware(row transport.Object) {
	flag := func(dst *Field[bool], prop string) {
		if v, ok := transport.AsBool(row[prop]); ok {
			*dst = Known(v)
		}
	}

	flag(&r.AntivirusEnabled, "AntivirusEnabled")
	flag(&r.AntimalwareServiceEnabled, "AMServiceEnabled")
	flag(&r.OnAccessProtectionEnabled, "OnAccessProtectionEnabled")
	flag(&r.RealTimeProtectionEnabled, "RealTimeProtectionEnabled")
	flag(&r.AntispywareEnabled, "AntispywareEnabled")
	flag(&r.BehaviorMonitorEnabled, "BehaviorMonitorEnabled")
	flag(&r.OfficeProtectionEnabled, "IoavProtectionEnabled")
	flag(&r.NetworkInspectionEnabled, "NISEnabled")

	if ts, ok := transport.AsTime(row["AntivirusSignatureLastUpdated"]); ok {
		r.AntivirusSignatureLastUpdated = Known(ts)
	}
}

// markAntimalwareUnknown downgrades every antimalware field to
// unknown with the given reason. The service-enabled flag is part of
// the set; callers that learned something about it set it afterwards.
func (r *Record) markAntimalwareUnknown(reason Reason) {
	r.AntivirusEnabled = Unknown[bool](reason)
	r.AntivirusSignatureLastUpdated = Unknown[time.Time](reason)
	r.AntimalwareServiceEnabled = Unknown[bool](reason)
	r.OnAccessProtectionEnabled = Unknown[bool](reason)
	r.RealTimeProtectionEnabled = Unknown[bool](reason)
	r.AntispywareEnabled = Unknown[bool](reason)
	r.BehaviorMonitorEnabled = Unknown[bool](reason)
	r.OfficeProtectionEnabled = Unknown[bool](reason)
	r.NetworkInspectionEnabled = Unknown[bool](reason)
}
