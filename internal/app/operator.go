package app

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"chargehub/internal/ocpp"
	"chargehub/internal/registry"
	"chargehub/internal/session"
	"chargehub/internal/settlement"
)

// operatorAPI exposes the hub's operator surface: a live charger table, the
// stuck-settlement view, and remote start/stop commands.
type operatorAPI struct {
	registry    *registry.Registry
	sessions    *session.Manager
	dispatcher  *ocpp.Dispatcher
	coordinator *settlement.Coordinator
	logger      *zap.Logger
}

type chargerRow struct {
	ChargerID  string         `json:"charger_id"`
	Connected  bool           `json:"connected"`
	Status     string         `json:"status"`
	Connectors map[int]string `json:"connectors"`
}

func (o *operatorAPI) handleChargers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chargers, online := o.registry.Snapshot()
	rows := make([]chargerRow, 0, len(chargers))
	for _, c := range chargers {
		connectors := make(map[int]string, len(c.Connectors))
		for id, state := range c.Connectors {
			connectors[id] = state.Status
		}
		rows = append(rows, chargerRow{
			ChargerID:  c.ID,
			Connected:  c.Connected,
			Status:     c.Status,
			Connectors: connectors,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online_chargers": online,
		"chargers":        rows,
		"transactions":    o.sessions.Active(),
	})
}

func (o *operatorAPI) handlePendingSettlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, o.coordinator.Pending())
}

type remoteStartRequest struct {
	ChargerID   string `json:"charger_id"`
	ConnectorID int    `json:"connector_id"`
	IdTag       string `json:"id_tag"`
}

func (o *operatorAPI) handleRemoteStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req remoteStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChargerID == "" || req.ConnectorID <= 0 || req.IdTag == "" {
		http.Error(w, "charger_id, connector_id and id_tag are required", http.StatusBadRequest)
		return
	}

	if err := o.dispatcher.RemoteStart(r.Context(), req.ChargerID, req.ConnectorID, req.IdTag); err != nil {
		o.logger.Warn("remote start failed", zap.String("charger_id", req.ChargerID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type remoteStopRequest struct {
	ChargerID     string `json:"charger_id"`
	TransactionID string `json:"transaction_id"`
}

func (o *operatorAPI) handleRemoteStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req remoteStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChargerID == "" || req.TransactionID == "" {
		http.Error(w, "charger_id and transaction_id are required", http.StatusBadRequest)
		return
	}

	if err := o.dispatcher.RemoteStop(r.Context(), req.ChargerID, req.TransactionID); err != nil {
		o.logger.Warn("remote stop failed", zap.String("charger_id", req.ChargerID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
