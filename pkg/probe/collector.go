package probe

import (
	"context"

	"github.com/jmharte/secprobe/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Query plan constants. The plan is fixed: the same namespaces,
// classes and fields every invocation, read-only throughout.
const (
	defenderNamespace = `root\Microsoft\Windows\Defender`
	defenderClass     = "MSFT_MpComputerStatus"

	cimv2Namespace = `root\cimv2`
	osClass        = "Win32_OperatingSystem"

	secCenterNamespace = `root\SecurityCenter2`

	firewallPolicyPath  = `SOFTWARE\Policies\Microsoft\WindowsFirewall\DomainProfile`
	firewallPolicyValue = "EnableFirewall"
)

// Win32_OperatingSystem.ProductType value for workstation-class
// systems (2 is domain controller, 3 is server).
const productTypeWorkstation = 1

var defenderFields = []string{
	"AntivirusEnabled",
	"AntivirusSignatureLastUpdated",
	"AMServiceEnabled",
	"OnAccessProtectionEnabled",
	"RealTimeProtectionEnabled",
	"AntispywareEnabled",
	"BehaviorMonitorEnabled",
	"IoavProtectionEnabled",
	"NISEnabled",
}

// securityProducts maps each Security Center product class to the
// record field it populates. The three lookups are independent: one
// failing or coming back empty never affects the others.
var securityProducts = []struct {
	class string
	field func(*Record) *Field[string]
}{
	{"AntiSpywareProduct", func(r *Record) *Field[string] { return &r.AntispywareProductName }},
	{"AntiVirusProduct", func(r *Record) *Field[string] { return &r.AntivirusProductName }},
	{"FirewallProduct", func(r *Record) *Field[string] { return &r.FirewallProductName }},
}

// Collector runs the fixed query plan against an open session. It
// never fails outright: every per-query failure downgrades that
// query's fields to unknown and the remaining steps still run. No
// sub-query is ever retried.
type Collector struct {
	log logrus.FieldLogger
}

// NewCollector creates a Collector logging through log.
func NewCollector(log logrus.FieldLogger) *Collector {
	return &Collector{log: log}
}

// Collect probes the session and returns the aggregated record for
// host. The steps run in a fixed order: antimalware engine state
// first (most likely partial failure, isolated early), then OS class,
// which gates the three security-center product lookups (servers do
// not expose the product catalog), then the firewall policy value,
// which is unconditional.
func (c *Collector) Collect(ctx context.Context, sess transport.Session, host string) *Record {
	rec := NewRecord(host)

	c.antimalware(ctx, sess, rec)

	if c.isWorkstation(ctx, sess) {
		c.products(ctx, sess, rec)
	} else {
		reason := ReasonNotApplicable
		rec.AntispywareProductName = Unknown[string](reason)
		rec.AntivirusProductName = Unknown[string](reason)
		rec.FirewallProductName = Unknown[string](reason)
	}

	c.firewallPolicy(ctx, sess, rec)

	return rec
}

// antimalware runs step 1 of the plan. A not-installed outcome from
// the Defender provider is an expected state, not a failure: it
// confirms the antimalware service is off while everything else about
// the engine stays unknown.
func (c *Collector) antimalware(ctx context.Context, sess transport.Session, rec *Record) {
	rows, err := sess.Query(ctx, defenderNamespace, defenderClass, defenderFields)
	if err != nil {
		if transport.NotInstalled(err) {
			c.log.WithField("host", rec.Host).Debug("antimalware subsystem not installed")
			rec.markAntimalwareUnknown(ReasonNotApplicable)
			rec.AntimalwareServiceEnabled = Known(false)
			return
		}
		c.log.WithField("host", rec.Host).WithError(err).Warn("antimalware status query failed")
		rec.markAntimalwareUnknown(ReasonQueryFailed)
		return
	}
	if len(rows) == 0 {
		rec.markAntimalwareUnknown(ReasonQueryFailed)
		return
	}
	rec.applyAntimalware(rows[0])
}

// isWorkstation runs step 2. A failed query is treated as "not a
// workstation" so the product-catalog lookups are skipped rather than
// attempted against a host class that cannot answer them.
func (c *Collector) isWorkstation(ctx context.Context, sess transport.Session) bool {
	rows, err := sess.Query(ctx, cimv2Namespace, osClass, []string{"ProductType"})
	if err != nil {
		c.log.WithError(err).Debug("OS class query failed, assuming server-class")
		return false
	}
	if len(rows) == 0 {
		return false
	}
	pt, ok := transport.AsInt(rows[0]["ProductType"])
	return ok && pt == productTypeWorkstation
}

// products runs step 3: the three Security Center registrations, each
// queried and stored on its own. An empty catalog entry leaves the
// field unset, which is not an error.
func (c *Collector) products(ctx context.Context, sess transport.Session, rec *Record) {
	for _, p := range securityProducts {
		rows, err := sess.Query(ctx, secCenterNamespace, p.class, []string{"displayName"})
		if err != nil {
			c.log.WithField("class", p.class).WithError(err).Debug("security product query failed")
			*p.field(rec) = Unknown[string](ReasonQueryFailed)
			continue
		}
		if len(rows) == 0 {
			continue
		}
		if name, ok := transport.AsString(rows[0]["displayName"]); ok {
			*p.field(rec) = Known(name)
		}
	}
}

// firewallPolicy runs step 4, unconditionally. An unreadable value
// (missing key, access denied) leaves the field unset.
func (c *Collector) firewallPolicy(ctx context.Context, sess transport.Session, rec *Record) {
	v, err := sess.RegValue(ctx, firewallPolicyPath, firewallPolicyValue)
	if err != nil {
		c.log.WithError(err).Debug("firewall policy value unreadable")
		rec.FirewallDomainProfileEnabled = Unknown[int64](ReasonQueryFailed)
		return
	}
	rec.FirewallDomainProfileEnabled = Known(int64(v))
}
