package agent

import (
	"encoding/json"

	"chargehub/internal/events"
)

// ChargerView is one charger as the dashboard sees it. A disconnected
// charger keeps its last known status with the live flag down.
type ChargerView struct {
	Connected bool
	Status    string
}

// View is the UI-facing aggregate derived from the event stream.
type View struct {
	OnlineChargers     int
	Chargers           map[string]ChargerView
	ActiveTransactions []events.ActiveTransaction
}

func emptyView() View {
	return View{Chargers: make(map[string]ChargerView)}
}

func (v View) clone() View {
	out := View{
		OnlineChargers:     v.OnlineChargers,
		Chargers:           make(map[string]ChargerView, len(v.Chargers)),
		ActiveTransactions: make([]events.ActiveTransaction, len(v.ActiveTransactions)),
	}
	for id, c := range v.Chargers {
		out.Chargers[id] = c
	}
	copy(out.ActiveTransactions, v.ActiveTransactions)
	return out
}

// Reduce applies one event to the previous view and returns the next one.
// A status snapshot replaces the baseline entirely; merging deltas into stale
// state after a gap is unsound.
func Reduce(v View, evt events.Event) View {
	switch data := evt.Data.(type) {
	case events.StatusPayload:
		next := emptyView()
		next.OnlineChargers = data.OnlineChargers
		for _, c := range data.Chargers {
			next.Chargers[c.ChargerID] = ChargerView{Connected: c.Connected, Status: c.Status}
		}
		next.ActiveTransactions = append(next.ActiveTransactions, data.Transactions...)
		return next

	case events.ChargerPayload:
		next := v.clone()
		current, known := next.Chargers[data.ChargerID]
		switch evt.Type {
		case events.TypeChargerConnected:
			if !known || !current.Connected {
				next.OnlineChargers++
			}
			next.Chargers[data.ChargerID] = ChargerView{Connected: true, Status: "Available"}
		case events.TypeChargerDisconnected:
			if known && current.Connected {
				next.OnlineChargers--
			}
			current.Connected = false
			next.Chargers[data.ChargerID] = current
		}
		return next

	case events.TransactionStartedPayload:
		next := v.clone()
		next.ActiveTransactions = append(next.ActiveTransactions, events.ActiveTransaction{
			TransactionID: data.TransactionID,
			ChargerID:     data.ChargerID,
			ConnectorID:   data.ConnectorID,
			CardID:        data.CardID,
			StartedAt:     data.StartedAt,
		})
		if c, ok := next.Chargers[data.ChargerID]; ok {
			c.Status = "Charging"
			next.Chargers[data.ChargerID] = c
		}
		return next

	case events.TransactionStoppedPayload:
		next := v.clone()
		kept := next.ActiveTransactions[:0]
		for _, tx := range next.ActiveTransactions {
			if tx.TransactionID != data.TransactionID {
				kept = append(kept, tx)
			}
		}
		next.ActiveTransactions = kept
		if c, ok := next.Chargers[data.ChargerID]; ok {
			c.Status = "Available"
			next.Chargers[data.ChargerID] = c
		}
		return next
	}

	return v
}

// decodeEvent turns a wire envelope into a typed event. Unknown tags come
// back with a nil payload and are ignored by the reducer.
func decodeEvent(env events.Envelope) (events.Event, error) {
	evt := events.Event{Type: env.Event}
	switch env.Event {
	case events.TypeStatus:
		var data events.StatusPayload
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return evt, err
		}
		evt.Data = data
	case events.TypeChargerConnected, events.TypeChargerDisconnected:
		var data events.ChargerPayload
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return evt, err
		}
		evt.Data = data
	case events.TypeTransactionStarted:
		var data events.TransactionStartedPayload
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return evt, err
		}
		evt.Data = data
	case events.TypeTransactionStopped:
		var data events.TransactionStoppedPayload
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return evt, err
		}
		evt.Data = data
	}
	return evt, nil
}
