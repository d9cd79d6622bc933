package normalize

import (
	"fmt"
	"time"

	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/fallback"
	"github.com/darkace1998/PostureLens/internal/model"
)

// Rule IDs of findings derived from domain metrics.
const (
	RuleAdminMFA         = "MFA-001"
	RuleUserMFA          = "MFA-002"
	RuleExcessAdmins     = "PRIV-001"
	RuleRiskyUsers       = "RISK-001"
	RuleDeviceCompliance = "DEV-001"
	RuleBackupMissing    = "BKP-001"
	RuleBackupCoverage   = "BKP-002"
	RuleCriticalAlerts   = "THR-001"
)

// rule inspects the inputs of one category and reports at most one finding.
type rule struct {
	id       string
	category model.Category
	title    string
	check    func(in *inputs) (sev model.Severity, description, remediation string, hit bool)
}

var rules = []rule{
	{
		id: RuleAdminMFA, category: model.CategoryIdentity, title: "Administrators without MFA",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			v, ok := in.metric(model.CategoryIdentity, collector.MetricAdminMFAPercent)
			if !ok || v >= 100 {
				return 0, "", "", false
			}
			return model.Critical,
				fmt.Sprintf("Only %.1f%% of administrator accounts have MFA enabled", v),
				"Enable MFA for all administrator accounts immediately", true
		},
	},
	{
		id: RuleUserMFA, category: model.CategoryIdentity, title: "Users without MFA",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			v, ok := in.metric(model.CategoryIdentity, collector.MetricUserMFAPercent)
			if !ok || v >= 95 {
				return 0, "", "", false
			}
			sev := model.High
			if v < 80 {
				sev = model.Critical
			}
			desc := fmt.Sprintf("Only %.1f%% of users have MFA enabled", v)
			if n, ok := in.metric(model.CategoryIdentity, collector.MetricUsersWithoutMFA); ok {
				desc += fmt.Sprintf(" (%.0f users without MFA)", n)
			}
			return sev, desc, "Require MFA through security defaults or conditional access", true
		},
	},
	{
		id: RuleExcessAdmins, category: model.CategoryIdentity, title: "Excessive global administrators",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			v, ok := in.metric(model.CategoryIdentity, collector.MetricGlobalAdmins)
			if !ok || v <= 5 {
				return 0, "", "", false
			}
			return model.High,
				fmt.Sprintf("%.0f global administrator accounts exist (recommended: 2-4)", v),
				"Reduce global administrators and use just-in-time elevation", true
		},
	},
	{
		id: RuleRiskyUsers, category: model.CategoryIdentity, title: "High-risk users detected",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			v, ok := in.metric(model.CategoryIdentity, collector.MetricHighRiskUsers)
			if !ok || v <= 0 {
				return 0, "", "", false
			}
			return model.Critical,
				fmt.Sprintf("%.0f users are flagged as high risk", v),
				"Investigate and remediate high-risk user accounts immediately", true
		},
	},
	{
		id: RuleDeviceCompliance, category: model.CategoryDevices, title: "Non-compliant devices",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			v, ok := in.metric(model.CategoryDevices, collector.MetricCompliancePercent)
			if !ok || v >= 90 {
				return 0, "", "", false
			}
			sev := model.High
			if v < 70 {
				sev = model.Critical
			}
			desc := fmt.Sprintf("Device compliance is %.1f%%", v)
			if n, ok := in.metric(model.CategoryDevices, collector.MetricNonCompliant); ok {
				desc = fmt.Sprintf("%.0f devices are non-compliant (compliance %.1f%%)", n, v)
			}
			return sev, desc, "Review and remediate non-compliant devices", true
		},
	},
	{
		id: RuleBackupMissing, category: model.CategoryBackup, title: "Backup not configured",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			if s, _ := in.text(model.CategoryBackup, collector.MetricBackupStatus); s != "not_configured" {
				return 0, "", "", false
			}
			return model.Critical,
				"No backup vaults detected; recovery from ransomware is not possible",
				"Implement backup for critical systems", true
		},
	},
	{
		id: RuleBackupCoverage, category: model.CategoryBackup, title: "Incomplete backup coverage",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			if s, _ := in.text(model.CategoryBackup, collector.MetricBackupStatus); s == "not_configured" {
				return 0, "", "", false
			}
			v, ok := in.metric(model.CategoryBackup, collector.MetricProtectedPercent)
			if !ok || v >= 90 {
				return 0, "", "", false
			}
			return model.High,
				fmt.Sprintf("Only %.1f%% of critical systems are backed up", v),
				"Extend backup coverage to all critical systems", true
		},
	},
	{
		id: RuleCriticalAlerts, category: model.CategoryThreats, title: "Critical security alerts",
		check: func(in *inputs) (model.Severity, string, string, bool) {
			v, ok := in.metric(model.CategoryThreats, collector.MetricCriticalAlerts)
			if !ok || v <= 0 {
				return 0, "", "", false
			}
			return model.Critical,
				fmt.Sprintf("%.0f critical security alerts require attention", v),
				"Investigate and respond to critical alerts immediately", true
		},
	},
}

// derive evaluates every rule whose source domain resolved with usable
// data. Derived findings are attached to the tenant as a whole, so their
// fingerprints stay stable between assessments.
func derive(tenantID string, at time.Time, byDomain map[model.Domain]fallback.Result, in *inputs) []model.Finding {
	var out []model.Finding
	for _, r := range rules {
		if res, ok := byDomain[model.SourceDomain(r.category)]; !ok || !res.State.Usable() {
			continue
		}
		sev, desc, fix, hit := r.check(in)
		if !hit {
			continue
		}
		f := model.Finding{
			ID:          r.id,
			RuleID:      r.id,
			Category:    r.category,
			Severity:    sev,
			Title:       r.title,
			Description: desc,
			Resource:    "tenant:" + tenantID,
			FirstSeen:   at,
			Status:      model.StatusOpen,
			Remediation: fix,
		}
		out = append(out, f.WithFingerprint())
	}
	return out
}
