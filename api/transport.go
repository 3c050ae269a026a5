// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the operator-facing admin HTTP surface: health,
// Prometheus metrics, and a read-only view of the secure-channel
// registry and its audit trail. It carries no session or
// authentication layer of its own — that sits in front of it, as an
// out-of-scope concern.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/absmach/uasc"
	"github.com/absmach/uasc/audit"
	"github.com/absmach/uasc/securechannel"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const contentType = "Content-Type"

// MakeHandler returns the admin HTTP handler wired against registry
// and auditRepo, the way journal/api/transport.go wires its service
// behind chi, minus the kithttp/auth layers this surface does not need.
func MakeHandler(registry *securechannel.Registry, auditRepo audit.Repository, svcName, instanceID string) http.Handler {
	mux := chi.NewRouter()

	mux.Get("/health", uasc.Health(svcName, instanceID))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/channels", listChannels(registry))
	mux.Get("/channels/{channelID}/audit", channelAudit(auditRepo))

	return mux
}

func listChannels(registry *securechannel.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encodeJSON(w, http.StatusOK, registry.Snapshot())
	}
}

func channelAudit(auditRepo audit.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "channelID"), 10, 32)
		if err != nil {
			encodeError(w, http.StatusBadRequest, "invalid channel id")
			return
		}

		records, err := auditRepo.RetrieveByChannel(r.Context(), uint32(id))
		if err != nil {
			encodeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		encodeJSON(w, http.StatusOK, records)
	}
}

func encodeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(contentType, "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func encodeError(w http.ResponseWriter, status int, msg string) {
	encodeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
