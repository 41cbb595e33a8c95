package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/insights_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tenantColumn = "business_id"

// TenantGuardPlugin scopes reads, updates and deletes to the request's
// business_id whenever the model carries a business_id column, so a report or
// dashboard can never leak across tenants through a forgotten Where.
//
// Raw SQL is not rewritten: statements like DashboardDB.RecordView must carry
// their own business_id filter. Dispatchers and admin tooling opt out through
// the context flags checked in tenantBypassed.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	hooks := []struct {
		name     string
		register func(name string, fn func(*gorm.DB)) error
	}{
		{"tenant_guard:query", db.Callback().Query().Before("gorm:query").Register},
		{"tenant_guard:row", db.Callback().Row().Before("gorm:row").Register},
		{"tenant_guard:update", db.Callback().Update().Before("gorm:update").Register},
		{"tenant_guard:delete", db.Callback().Delete().Before("gorm:delete").Register},
	}
	for _, h := range hooks {
		if err := h.register(h.name, applyTenantScope); err != nil {
			return err
		}
	}
	return nil
}

func applyTenantScope(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil {
		return
	}
	ctx := db.Statement.Context
	if tenantBypassed(ctx) {
		return
	}
	businessId := tenantFromContext(ctx)
	if businessId == "" {
		return
	}

	schema := db.Statement.Schema
	if schema == nil || schema.LookUpField(tenantColumn) == nil {
		return
	}

	// An explicit tenant filter in the statement wins over the guard.
	if whereMentionsTenant(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: tenantColumn},
				Value:  businessId,
			},
		},
	})
}

func tenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(appctx.ContextKeyBusinessId).(string); ok {
		return v
	}
	return ""
}

func tenantBypassed(ctx context.Context) bool {
	if v, ok := ctx.Value(appctx.ContextKeySkipTenantScope).(bool); ok && v {
		return true
	}
	if v, ok := ctx.Value(appctx.ContextKeyIsAdmin).(bool); ok && v {
		return true
	}
	return false
}

func whereMentionsTenant(c clause.Clause) bool {
	where, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	return anyMentionsTenant(where.Exprs)
}

func anyMentionsTenant(exprs []clause.Expression) bool {
	for _, e := range exprs {
		if exprMentionsTenant(e) {
			return true
		}
	}
	return false
}

func exprMentionsTenant(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return isTenantColumn(v.Column)
	case clause.Neq:
		return isTenantColumn(v.Column)
	case clause.Gt:
		return isTenantColumn(v.Column)
	case clause.Gte:
		return isTenantColumn(v.Column)
	case clause.Lt:
		return isTenantColumn(v.Column)
	case clause.Lte:
		return isTenantColumn(v.Column)
	case clause.IN:
		return isTenantColumn(v.Column)
	case clause.AndConditions:
		return anyMentionsTenant(v.Exprs)
	case clause.OrConditions:
		return anyMentionsTenant(v.Exprs)
	case clause.Expr:
		// Best effort for hand-built conditions.
		return strings.Contains(strings.ToLower(v.SQL), tenantColumn)
	}
	return false
}

func isTenantColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, tenantColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, tenantColumn)
	}
	return false
}
