package middleware

import "context"

type contextKey string

const OrgIDKey contextKey = "org_id"

// GetOrgID returns the organization ID from context.
func GetOrgID(ctx context.Context) string {
	orgID, _ := ctx.Value(OrgIDKey).(string)
	return orgID
}
