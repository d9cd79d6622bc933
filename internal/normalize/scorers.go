package normalize

import (
	"strings"

	"github.com/darkace1998/PostureLens/internal/collector"
	"github.com/darkace1998/PostureLens/internal/model"
)

// scorer computes a category's 0-100 sub-score. ok is false when the inputs
// cannot support a score; reason then says why.
type scorer func(in *inputs) (score float64, reason string, ok bool)

var scorers = map[model.Category]scorer{
	model.CategorySecureScore:    secureScore,
	model.CategoryIdentity:       identityScore,
	model.CategoryDataProtection: controlScore(model.CategoryDataProtection, "encrypt", "dlp", "data", "information", "classification"),
	model.CategoryBackup:         backupScore,
	model.CategoryDevices:        deviceScore,
	model.CategoryNetwork:        controlScore(model.CategoryNetwork, "network", "firewall", "nsg", "vpn", "gateway"),
}

const noData = "no usable data"

func secureScore(in *inputs) (float64, string, bool) {
	if v, ok := in.scores[model.CategorySecureScore]; ok {
		return v, "", true
	}
	cur, okCur := in.metric(model.CategorySecureScore, collector.MetricCurrentScore)
	top, okTop := in.metric(model.CategorySecureScore, collector.MetricMaxScore)
	if !okCur || !okTop {
		return 0, noData, false
	}
	if top <= 0 {
		return 0, "maximum secure score is zero", false
	}
	return cur / top * 100, "", true
}

// identityScore weighs MFA coverage 40, privileged admins 30, risky users
// 20 and conditional access 10.
func identityScore(in *inputs) (float64, string, bool) {
	c := model.CategoryIdentity
	if v, ok := in.scores[c]; ok {
		return v, "", true
	}
	if len(in.metrics[c]) == 0 {
		return 0, noData, false
	}

	adminMFA, _ := in.metric(c, collector.MetricAdminMFAPercent)
	userMFA, _ := in.metric(c, collector.MetricUserMFAPercent)
	score := (adminMFA*0.6 + userMFA*0.4) * 0.40

	admins, _ := in.metric(c, collector.MetricGlobalAdmins)
	switch {
	case admins <= 4:
		score += 30
	case admins <= 6:
		score += 20
	case admins <= 10:
		score += 10
	}

	risky, _ := in.metric(c, collector.MetricHighRiskUsers)
	switch {
	case risky == 0:
		score += 20
	case risky <= 2:
		score += 10
	}

	policies, _ := in.metric(c, collector.MetricEnabledCAPolicies)
	switch {
	case policies >= 5:
		score += 10
	case policies >= 3:
		score += 7
	case policies >= 1:
		score += 4
	}

	return score, "", true
}

// backupScore weighs protected coverage 50, RTO 25 and RPO 25. A tenant
// with backup reported as not configured has a verified score of 0.
func backupScore(in *inputs) (float64, string, bool) {
	c := model.CategoryBackup
	if v, ok := in.scores[c]; ok {
		return v, "", true
	}
	if len(in.metrics[c]) == 0 {
		return 0, noData, false
	}
	if status, _ := in.text(c, collector.MetricBackupStatus); status == "not_configured" {
		return 0, "", true
	}

	protected, _ := in.metric(c, collector.MetricProtectedPercent)
	score := protected * 0.50
	rto, _ := in.text(c, collector.MetricRTOStatus)
	rpo, _ := in.text(c, collector.MetricRPOStatus)
	score += readiness(rto) + readiness(rpo)
	return score, "", true
}

func readiness(status string) float64 {
	switch status {
	case "healthy":
		return 25
	case "warning":
		return 15
	case "at_risk":
		return 5
	default:
		return 0
	}
}

func deviceScore(in *inputs) (float64, string, bool) {
	c := model.CategoryDevices
	if v, ok := in.scores[c]; ok {
		return v, "", true
	}
	v, ok := in.metric(c, collector.MetricCompliancePercent)
	if !ok {
		return 0, noData, false
	}
	return v, "", true
}

// controlScore scores a category from the baseline controls whose name
// contains any of keywords.
func controlScore(c model.Category, keywords ...string) scorer {
	return func(in *inputs) (float64, string, bool) {
		if v, ok := in.scores[c]; ok {
			return v, "", true
		}
		var score, total float64
		matched := 0
		for _, ctl := range in.controls {
			for _, kw := range keywords {
				if strings.Contains(ctl.name, kw) {
					score += ctl.score
					total += ctl.max
					matched++
					break
				}
			}
		}
		if matched == 0 || total == 0 {
			return 0, "no matching baseline controls", false
		}
		return score / total * 100, "", true
	}
}
