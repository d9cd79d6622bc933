package collector

import (
	"time"

	"github.com/darkace1998/PostureLens/internal/model"
)

// Metric names understood by the normalizer.
const (
	MetricCurrentScore = "current_score"
	MetricMaxScore     = "max_score"

	MetricAdminMFAPercent   = "admin_mfa_percent"
	MetricUserMFAPercent    = "user_mfa_percent"
	MetricUsersWithoutMFA   = "users_without_mfa"
	MetricGlobalAdmins      = "global_admin_count"
	MetricHighRiskUsers     = "high_risk_users"
	MetricEnabledCAPolicies = "enabled_ca_policies"

	MetricCompliancePercent = "compliance_percent"
	MetricNonCompliant      = "non_compliant_count"

	MetricBackupStatus     = "status"
	MetricProtectedPercent = "protected_percent"
	MetricRTOStatus        = "rto_status"
	MetricRPOStatus        = "rpo_status"

	MetricCriticalAlerts = "critical_alerts"
)

// demoEpoch keeps demo first_seen values stable between runs so demo
// manifests compare cleanly.
var demoEpoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// DemoRecords returns the canned payload served for domain in demonstration
// mode. The values describe a plausible mid-sized tenant.
func DemoRecords(domain model.Domain) []RawRecord {
	switch domain {
	case model.DomainSecureScore:
		return []RawRecord{
			Metric(model.CategorySecureScore, MetricCurrentScore, 412),
			Metric(model.CategorySecureScore, MetricMaxScore, 620),
			Control("Encrypt data at rest", 8, 10),
			Control("Apply DLP policies", 3, 10),
			Control("Information classification labels", 5, 10),
			Control("Network security group flow logs", 6, 10),
			Control("Firewall rules restrict inbound traffic", 9, 10),
		}
	case model.DomainIdentity:
		return []RawRecord{
			Metric(model.CategoryIdentity, MetricAdminMFAPercent, 87.5),
			Metric(model.CategoryIdentity, MetricUserMFAPercent, 91.2),
			Metric(model.CategoryIdentity, MetricUsersWithoutMFA, 22),
			Metric(model.CategoryIdentity, MetricGlobalAdmins, 6),
			Metric(model.CategoryIdentity, MetricHighRiskUsers, 1),
			Metric(model.CategoryIdentity, MetricEnabledCAPolicies, 4),
		}
	case model.DomainDevices:
		return []RawRecord{
			Metric(model.CategoryDevices, MetricCompliancePercent, 84.3),
			Metric(model.CategoryDevices, MetricNonCompliant, 19),
		}
	case model.DomainBackup:
		return []RawRecord{
			TextMetric(model.CategoryBackup, MetricBackupStatus, "configured"),
			Metric(model.CategoryBackup, MetricProtectedPercent, 76),
			TextMetric(model.CategoryBackup, MetricRTOStatus, "healthy"),
			TextMetric(model.CategoryBackup, MetricRPOStatus, "warning"),
		}
	case model.DomainThreats:
		return []RawRecord{
			Metric(model.CategoryThreats, MetricCriticalAlerts, 1),
			{
				Category:    string(model.CategoryThreats),
				Kind:        KindFinding,
				ID:          "alert-7c1e",
				Severity:    "high",
				Title:       "Suspicious inbox forwarding rule",
				Description: "A mailbox rule forwards external mail to an unknown domain",
				Resource:    "mailbox:finance@demo.example",
				FirstSeen:   demoEpoch,
				Remediation: "Remove the rule and reset the account credentials",
			},
		}
	case model.DomainVulnerabilities:
		return []RawRecord{
			{
				Category:    string(model.CategoryVulnerabilities),
				Kind:        KindFinding,
				ID:          "CVE-2024-21412",
				Severity:    "high",
				Title:       "Internet Shortcut Files security feature bypass",
				Resource:    "device:LAPTOP-0142",
				FirstSeen:   demoEpoch,
				Remediation: "Install the February 2024 cumulative update",
			},
			{
				Category:    string(model.CategoryVulnerabilities),
				Kind:        KindFinding,
				ID:          "CVE-2023-36884",
				Severity:    "medium",
				Title:       "Office and Windows HTML remote code execution",
				Resource:    "device:DESKTOP-0077",
				FirstSeen:   demoEpoch,
				Remediation: "Apply the Office security update",
			},
		}
	}
	return nil
}
