package main

import (
	"net/http"

	"care-dispatch/internal/app"
	"care-dispatch/internal/assignment"
	"care-dispatch/internal/collection"
	"care-dispatch/internal/escalation"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/middleware"
	"care-dispatch/internal/notify"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
	engine  *assignment.Engine
	machine *collection.Machine
	timer   *escalation.Timer
	lab     *escalation.LabMonitor
	hub     *notify.Hub
	reg     *prometheus.Registry
	log     *logger.Logger

	metricsPath string
	healthPath  string
}

func newServer(a *app.App) *server {
	return &server{
		engine:      a.Engine,
		machine:     a.Machine,
		timer:       a.Timer,
		lab:         a.LabMonitor,
		hub:         a.Hub,
		reg:         a.Registry,
		log:         a.Log,
		metricsPath: a.Config.Monitoring.MetricsPath,
		healthPath:  a.Config.Monitoring.HealthPath,
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog(s.log))

	r.HandleFunc(s.healthPath, s.handleHealth).Methods(http.MethodGet)
	r.Handle(s.metricsPath, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/items/{id}/assign", s.handleAssign).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/reassign", s.handleReassign).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/actions", s.handleActions).Methods(http.MethodGet)
	api.HandleFunc("/eligible-workers", s.handleEligible).Methods(http.MethodPost)
	api.HandleFunc("/escalation/scan", s.handleEscalationScan).Methods(http.MethodPost)
	api.HandleFunc("/escalation/lab-scan", s.handleLabScan).Methods(http.MethodPost)

	orders := api.PathPrefix("/orders/{id}").Subrouter()
	orders.HandleFunc("/en-route", s.handleStartRoute).Methods(http.MethodPost)
	orders.HandleFunc("/collected", s.handleCollected).Methods(http.MethodPost)
	orders.HandleFunc("/failed", s.handleFailed).Methods(http.MethodPost)
	orders.HandleFunc("/rebook", s.handleRebook).Methods(http.MethodPost)
	orders.HandleFunc("/in-transit", s.handleInTransit).Methods(http.MethodPost)
	orders.HandleFunc("/delivered", s.handleDelivered).Methods(http.MethodPost)
	orders.HandleFunc("/received", s.handleReceived).Methods(http.MethodPost)
	orders.HandleFunc("/issue", s.handleIssue).Methods(http.MethodPost)
	orders.HandleFunc("/recollect", s.handleRecollect).Methods(http.MethodPost)
	orders.HandleFunc("/results", s.handleResults).Methods(http.MethodPost)
	orders.HandleFunc("/critical-ack", s.handleCriticalAck).Methods(http.MethodPost)

	r.HandleFunc("/ops/alerts", s.handleAlertFeed).Methods(http.MethodGet)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"alert_listeners": s.hub.Subscribers(),
	})
}
