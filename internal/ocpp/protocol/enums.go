package protocol

// MessageType values as per the OCPP-J framing spec.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Inbound actions handled by the hub.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"
	ActionMeterValues        = "MeterValues"
)

// Outbound commands sent to chargers.
const (
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationRejected = "Rejected"
)

// Remote command status values answered to RemoteStart/RemoteStopTransaction.
const (
	RemoteStatusAccepted = "Accepted"
	RemoteStatusRejected = "Rejected"
)

// Authorization status values returned in idTagInfo.
const (
	AuthorizationAccepted     = "Accepted"
	AuthorizationRejected     = "Rejected"
	AuthorizationConcurrentTx = "ConcurrentTx"
)

// Connector status values (subset).
const (
	ConnectorAvailable   = "Available"
	ConnectorUnavailable = "Unavailable"
	ConnectorCharging    = "Charging"
	ConnectorFinishing   = "Finishing"
	ConnectorPreparing   = "Preparing"
	ConnectorFaulted     = "Faulted"
)
