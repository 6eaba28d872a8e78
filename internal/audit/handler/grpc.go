package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sweetpy/intelXv2-sub001/internal/audit/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/rbac"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
)

// ServiceName is the gRPC service name of the audit service.
const ServiceName = "intellx.audit.v1.AuditService"

// MethodListAuditLogs is the full method name of ListAuditLogs.
const MethodListAuditLogs = "/" + ServiceName + "/ListAuditLogs"

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// LogReader returns stored audit entries, oldest first, optionally for one user.
type LogReader interface {
	GetLogs(userID string) []domain.Entry
}

// Server implements AuditService over the in-memory audit trail.
type Server struct {
	logs        LogReader
	permissions rbac.PermissionChecker
}

// NewServer returns a new Audit gRPC server. Pass nil logs for stub (Unimplemented).
func NewServer(logs LogReader, permissions rbac.PermissionChecker) *Server {
	return &Server{logs: logs, permissions: permissions}
}

// Methods implements structrpc.Service.
func (s *Server) Methods() map[string]structrpc.Method {
	return map[string]structrpc.Method{
		"ListAuditLogs": s.ListAuditLogs,
	}
}

// ListAuditLogs returns a page of audit entries, newest first, filtered by the optional user_id,
// action, and resource fields. Requires the audit:read permission.
func (s *Server) ListAuditLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.logs == nil {
		return nil, status.Error(codes.Unimplemented, "method ListAuditLogs not implemented")
	}
	if _, _, err := rbac.RequirePermission(ctx, s.permissions, rbac.PermissionAuditRead); err != nil {
		return nil, err
	}

	pageSize := structrpc.Int(req, "page_size")
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := structrpc.Int(req, "offset")
	if offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}
	action := structrpc.String(req, "action")
	resource := structrpc.String(req, "resource")

	all := s.logs.GetLogs(structrpc.String(req, "user_id"))
	matched := make([]domain.Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if action != "" && e.Action != action {
			continue
		}
		if resource != "" && e.Resource != resource {
			continue
		}
		matched = append(matched, e)
	}

	page := []map[string]any{}
	for i := offset; i < len(matched) && len(page) < pageSize; i++ {
		page = append(page, entryToMap(matched[i]))
	}
	resp := map[string]any{
		"logs":  page,
		"total": len(matched),
	}
	if next := offset + len(page); next < len(matched) {
		resp["next_offset"] = next
	}
	return structrpc.NewStruct(resp), nil
}

func entryToMap(e domain.Entry) map[string]any {
	m := map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp,
		"user_id":   e.UserID,
		"action":    e.Action,
		"resource":  e.Resource,
		"success":   e.Success,
		"ip":        e.IP,
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}
