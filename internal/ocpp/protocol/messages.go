package protocol

import "time"

// BootNotificationRequest minimal subset.
type BootNotificationRequest struct {
	ChargePointVendor string `json:"chargePointVendor"`
	ChargePointModel  string `json:"chargePointModel"`
	ChargePointSerial string `json:"chargePointSerialNumber"`
	FirmwareVersion   string `json:"firmwareVersion"`
}

// BootNotificationResponse minimal response.
type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	ConnectorID     int       `json:"connectorId"`
	ConnectorStatus string    `json:"status"`
	ErrorCode       string    `json:"errorCode"`
	Info            string    `json:"info"`
	Timestamp       time.Time `json:"timestamp"`
}

// StatusNotificationResponse is empty (ack).
type StatusNotificationResponse struct{}

// StartTransactionRequest payload.
type StartTransactionRequest struct {
	ConnectorID int       `json:"connectorId"`
	IdTag       string    `json:"idTag"`
	MeterStart  int64     `json:"meterStart"`
	Timestamp   time.Time `json:"timestamp"`
}

// StartTransactionResponse carries the assigned transaction id.
type StartTransactionResponse struct {
	TransactionID string `json:"transactionId"`
	IdTagInfo     struct {
		Status string `json:"status"`
	} `json:"idTagInfo"`
}

// StopTransactionRequest payload.
type StopTransactionRequest struct {
	TransactionID string    `json:"transactionId"`
	IdTag         string    `json:"idTag"`
	MeterStop     int64     `json:"meterStop"`
	Timestamp     time.Time `json:"timestamp"`
	Reason        string    `json:"reason"`
}

// StopTransactionResponse ack.
type StopTransactionResponse struct {
	IdTagInfo struct {
		Status string `json:"status"`
	} `json:"idTagInfo"`
}

// MeterValuesRequest payload (simplified to a single reading).
type MeterValuesRequest struct {
	ConnectorID   int       `json:"connectorId"`
	TransactionID string    `json:"transactionId"`
	MeterValue    int64     `json:"meterValue"`
	Timestamp     time.Time `json:"timestamp"`
}

// MeterValuesResponse ack.
type MeterValuesResponse struct{}

// RemoteStartTransactionRequest outbound command payload.
type RemoteStartTransactionRequest struct {
	ConnectorID int    `json:"connectorId"`
	IdTag       string `json:"idTag"`
}

// RemoteStopTransactionRequest outbound command payload.
type RemoteStopTransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

// RemoteCommandResponse is the charger's accept/reject answer to a remote
// start/stop command.
type RemoteCommandResponse struct {
	Status string `json:"status"`
}
