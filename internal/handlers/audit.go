package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/internal/services"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AdminAuthorizer resolves the admin session of a request
type AdminAuthorizer interface {
	RequireAdmin(r *http.Request) (*models.SessionData, error)
}

// AuditArchive reads the durable audit store
type AuditArchive interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, error)
}

// Audit log sources reported in AuditLogsResponse
const (
	AuditSourceMemory  = "memory"
	AuditSourceArchive = "archive"
)

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	auditService *services.AuditService
	admins       AdminAuthorizer
	archive      AuditArchive
	logger       *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditService *services.AuditService, admins AdminAuthorizer, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
		admins:       admins,
		logger:       logger,
	}
}

// WithArchive reads from archive when the in-memory buffer no longer holds
// every entry a query could match
func (h *AuditHandler) WithArchive(archive AuditArchive) *AuditHandler {
	h.archive = archive
	return h
}

// AuditLogFilters echoes the filters applied to a query
type AuditLogFilters struct {
	UserID    string `json:"userId,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Severity  string `json:"severity,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Limit     int    `json:"limit"`
}

// AuditLogsResponse is the body of GET /api/audit/logs
type AuditLogsResponse struct {
	Logs    []models.AuditLogEntry `json:"logs"`
	Total   int                    `json:"total"`
	Source  string                 `json:"source"`
	Filters AuditLogFilters        `json:"filters"`
}

// GetLogs handles GET /api/audit/logs (admin only)
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.admins.RequireAdmin(r)
	if err != nil {
		userID := ""
		if session != nil {
			userID = session.UserID
		}
		h.auditService.LogSecurityEvent(ctx, models.AuditEventAuditLogAccessError,
			fmt.Sprintf("Failed to access audit logs: %v", err), models.SeverityError, userID, r, nil)

		if errors.Is(err, models.ErrAuthRequired) || errors.Is(err, models.ErrAdminRequired) {
			pkghttp.WriteForbidden(w, "Admin access required")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to fetch audit logs")
		return
	}

	filter, echo, err := parseAuditFilter(r)
	if err != nil {
		h.auditService.LogSecurityEvent(ctx, models.AuditEventAuditLogAccessError,
			fmt.Sprintf("Failed to access audit logs: %v", err), models.SeverityError, session.UserID, r, nil)
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	logs, source := h.queryLogs(ctx, filter)

	h.auditService.Log(ctx, models.AuditLogEntry{
		UserID:           models.StringPtr(session.UserID),
		SessionID:        models.StringPtr(session.SessionID),
		EventType:        models.AuditEventAuditLogAccess,
		EventDescription: "Admin accessed audit logs",
		Severity:         models.SeverityInfo,
		IPAddress:        models.StringPtr(h.auditService.ClientIP(r)),
		UserAgent:        models.StringPtr(r.UserAgent()),
		RequestPath:      models.StringPtr(r.URL.Path),
		RequestMethod:    models.StringPtr(r.Method),
		AdditionalData:   models.AuditMetadata{"filters": echo, "returned": len(logs), "source": source},
	})

	pkghttp.WriteJSON(w, http.StatusOK, AuditLogsResponse{
		Logs:    logs,
		Total:   len(logs),
		Source:  source,
		Filters: echo,
	})
}

// queryLogs answers from memory unless entries the filter could match have
// been evicted. Archive results are merged with memory, since the newest
// entries may not have been persisted yet.
func (h *AuditHandler) queryLogs(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, string) {
	logs := h.auditService.GetLogs(filter)
	if h.archive == nil || h.auditService.Covers(filter, len(logs)) {
		return logs, AuditSourceMemory
	}

	archived, err := h.archive.List(ctx, filter)
	if err != nil {
		h.logger.Warn("audit archive unavailable, serving in-memory logs", slog.Any("error", err))
		return logs, AuditSourceMemory
	}
	return mergeAuditLogs(logs, archived, filter.Limit), AuditSourceArchive
}

// mergeAuditLogs unions both sets by id, newest first, capped at limit
func mergeAuditLogs(memory, archived []models.AuditLogEntry, limit int) []models.AuditLogEntry {
	seen := make(map[string]struct{}, len(memory)+len(archived))
	merged := make([]models.AuditLogEntry, 0, len(memory)+len(archived))
	for _, set := range [][]models.AuditLogEntry{memory, archived} {
		for _, e := range set {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// parseAuditFilter reads the query parameters. Dates are RFC3339; a missing
// or non-positive limit means 100.
func parseAuditFilter(r *http.Request) (models.AuditFilter, AuditLogFilters, error) {
	q := r.URL.Query()

	echo := AuditLogFilters{
		UserID:    q.Get("userId"),
		EventType: q.Get("eventType"),
		Severity:  q.Get("severity"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Limit:     defaultAuditLimit,
	}

	filter := models.AuditFilter{
		UserID:    echo.UserID,
		EventType: echo.EventType,
		Severity:  models.Severity(echo.Severity),
	}

	if filter.Severity != "" && !filter.Severity.Valid() {
		return filter, echo, fmt.Errorf("invalid severity %q", echo.Severity)
	}

	if echo.StartDate != "" {
		t, err := time.Parse(time.RFC3339, echo.StartDate)
		if err != nil {
			return filter, echo, errors.New("startDate must be RFC3339")
		}
		filter.StartDate = &t
	}
	if echo.EndDate != "" {
		t, err := time.Parse(time.RFC3339, echo.EndDate)
		if err != nil {
			return filter, echo, errors.New("endDate must be RFC3339")
		}
		filter.EndDate = &t
	}

	if raw := q.Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil {
			return filter, echo, errors.New("limit must be an integer")
		}
		if l > 0 {
			echo.Limit = min(l, maxAuditLimit)
		}
	}
	filter.Limit = echo.Limit

	return filter, echo, nil
}
