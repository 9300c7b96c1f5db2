package rbac

// Permission constants
const (
	PermCreateBounty        = "create_bounty"
	PermFundBounty          = "fund_bounty"
	PermRequestPayout       = "request_payout"
	PermRequestRefund       = "request_refund"
	PermApplyToBounty       = "apply_to_bounty"
	PermAcceptApplication   = "accept_application"
	PermRejectApplication   = "reject_application"
	PermWithdrawApplication = "withdraw_application"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	"business": {
		PermCreateBounty, PermFundBounty, PermRequestPayout, PermRequestRefund,
		PermAcceptApplication, PermRejectApplication,
	},
	"creator": {
		PermApplyToBounty, PermWithdrawApplication,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports whether the permission moves money. Financial
// operations are always re-verified against record ownership, not just role.
func IsFinancialOperation(permission string) bool {
	return permission == PermFundBounty || permission == PermRequestPayout || permission == PermRequestRefund
}
