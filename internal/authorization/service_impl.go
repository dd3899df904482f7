package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin     = "admin"
	RoleTreasurer = "treasurer"
	RoleViewer    = "viewer"
)

const (
	ObjectRefund         = "refund"
	ObjectRegistration   = "registration"
	ObjectSync           = "sync"
	ObjectAccount        = "account"
	ObjectStagingInvoice = "staging_invoice"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionRefundView    = "refund.view"
	ActionRefundPreview = "refund.preview"
	ActionRefundConfirm = "refund.confirm"
	ActionRefundCancel  = "refund.cancel"

	ActionRegistrationChangeCategory = "registration.change_category"

	ActionSyncRun      = "sync.run"
	ActionSyncAccounts = "sync.accounts"

	ActionAccountView = "account.view"

	ActionStagingInvoiceView    = "staging_invoice.view"
	ActionStagingInvoiceIgnore  = "staging_invoice.ignore"
	ActionStagingInvoiceRequeue = "staging_invoice.requeue"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject string, role string, object string, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !isKnownRole(role) {
		s.auditDenied(ctx, subject, object, action)
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	user := "user:" + subject
	if err := s.ensureGrouping(user, roleSubject(role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(user, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, subject, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, subject, object, action)
	}
	return nil
}

// ensureGrouping keeps exactly one role link per user, following the role
// carried in the most recent token.
func (s *ServiceImpl) ensureGrouping(user string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, user)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(user, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(user, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, subject string, object string, action string) {
	s.audit(ctx, "authorization.denied", subject, object, action)
}

func (s *ServiceImpl) auditGranted(ctx context.Context, subject string, object string, action string) {
	s.audit(ctx, "authorization.granted", subject, object, action)
}

func (s *ServiceImpl) audit(ctx context.Context, event string, subject string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	actorID := subject
	targetID := "capability"
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAdmin), &actorID, event, "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": fmt.Sprintf("user:%s", subject),
	}); err != nil {
		s.log.Warn("failed to audit authorization decision", zap.String("event", event), zap.Error(err))
	}
}

func roleSubject(role string) string {
	return "role:" + role
}

func isKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTreasurer, RoleViewer:
		return true
	default:
		return false
	}
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionRefundConfirm, ActionStagingInvoiceIgnore, ActionRegistrationChangeCategory:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	views := [][]string{
		{ObjectRefund, ActionRefundView},
		{ObjectAccount, ActionAccountView},
		{ObjectStagingInvoice, ActionStagingInvoiceView},
		{ObjectAuditLog, ActionAuditLogView},
	}
	treasury := [][]string{
		{ObjectRefund, ActionRefundPreview},
		{ObjectRefund, ActionRefundConfirm},
		{ObjectRefund, ActionRefundCancel},
		{ObjectSync, ActionSyncRun},
		{ObjectSync, ActionSyncAccounts},
		{ObjectStagingInvoice, ActionStagingInvoiceRequeue},
	}
	admin := [][]string{
		{ObjectRegistration, ActionRegistrationChangeCategory},
		{ObjectStagingInvoice, ActionStagingInvoiceIgnore},
	}

	policies := make([][]string, 0, 3*len(views)+2*len(treasury)+len(admin))
	for _, rule := range views {
		// Viewer permissions (read-only)
		policies = append(policies,
			[]string{roleSubject(RoleViewer), rule[0], rule[1]},
			[]string{roleSubject(RoleTreasurer), rule[0], rule[1]},
			[]string{roleSubject(RoleAdmin), rule[0], rule[1]},
		)
	}
	for _, rule := range treasury {
		policies = append(policies,
			[]string{roleSubject(RoleTreasurer), rule[0], rule[1]},
			[]string{roleSubject(RoleAdmin), rule[0], rule[1]},
		)
	}
	for _, rule := range admin {
		policies = append(policies, []string{roleSubject(RoleAdmin), rule[0], rule[1]})
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
