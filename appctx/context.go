package appctx

import "context"

// ContextKey is the typed key for request-scoped identity values. A dedicated
// type avoids collisions with keys set by other packages.
type ContextKey string

const (
	ContextKeyBusinessId    ContextKey = "businessId"
	ContextKeyUserId        ContextKey = "userId"
	ContextKeyUserName      ContextKey = "userName"
	ContextKeyCorrelationId ContextKey = "correlationId"

	// ContextKeyIsAdmin and ContextKeySkipTenantScope bypass the tenant guard.
	// Only internal jobs (schedule dispatcher, outbox dispatcher) set them.
	ContextKeyIsAdmin         ContextKey = "isAdmin"
	ContextKeySkipTenantScope ContextKey = "skipTenantScope"
)

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}
