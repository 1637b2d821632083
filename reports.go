package main

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/store"
)

const maxReportReasonLen = 1000

// POST /reports
func reportsHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		me, _ := callerFrom(r.Context())

		var req struct {
			ReportedUserID string `json:"reported_user_id"`
			Reason         string `json:"reason"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Reason = strings.TrimSpace(req.Reason)
		switch {
		case req.ReportedUserID == "" || req.Reason == "":
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		case req.ReportedUserID == me.ID:
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		case utf8.RuneCountInString(req.Reason) > maxReportReasonLen:
			writeError(w, http.StatusBadRequest, "reason_too_long")
			return
		}

		if _, err := a.stores.Users.GetByID(r.Context(), req.ReportedUserID); err != nil {
			a.writeStoreError(w, r, err, "load reported user")
			return
		}

		report := &store.Report{ReporterID: me.ID, ReportedUserID: req.ReportedUserID, Reason: req.Reason}
		if err := a.stores.Reports.Create(r.Context(), report); err != nil {
			a.writeStoreError(w, r, err, "create report")
			return
		}
		logging.For(r.Context(), a.log).Info("user reported",
			zap.String("report_id", report.ID),
			zap.String("reported_user_id", report.ReportedUserID),
		)
		writeJSON(w, http.StatusCreated, report)
	})
}

// GET /admin/reports?status=
func adminReportsHandler(a *app) http.HandlerFunc {
	return a.requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		status := store.ReportStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		reports, err := a.stores.Reports.List(r.Context(), status)
		if err != nil {
			a.writeStoreError(w, r, err, "list reports")
			return
		}
		if reports == nil {
			reports = []store.Report{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
	})
}

// POST /admin/reports/{id}/status
func adminReportDispatcher(a *app) http.HandlerFunc {
	return a.requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		if len(parts) != 4 || parts[0] != "admin" || parts[1] != "reports" || parts[3] != "status" || parts[2] == "" {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if !allowMethods(w, r, http.MethodPost) {
			return
		}

		var req struct {
			Status store.ReportStatus `json:"status"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if !req.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}

		report, err := a.stores.Reports.SetStatus(r.Context(), parts[2], req.Status)
		if err != nil {
			a.writeStoreError(w, r, err, "update report")
			return
		}
		me, _ := callerFrom(r.Context())
		logging.For(r.Context(), a.log).Info("report status changed",
			zap.String("report_id", report.ID),
			zap.String("status", string(report.Status)),
			zap.String("admin_id", me.ID),
		)
		writeJSON(w, http.StatusOK, report)
	})
}
