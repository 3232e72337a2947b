package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rejection reasons. These are the stable vocabulary used in logs;
// handlers switch on Reason, not on error text.
const (
	ReasonMalformedTopic   = "malformed-topic"
	ReasonMalformedPayload = "malformed-payload"
	ReasonMissingField     = "missing-field"
	ReasonInvalidNumber    = "invalid-number"
)

const (
	topicNamespace = "devices"
	topicSuffix    = "data"
)

// RejectError describes why a message was rejected
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func reject(reason, format string, args ...interface{}) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Reading is a validated measurement ready for persistence
type Reading struct {
	DeviceID           string
	DeviceName         string
	Voltage            float64
	Current            float64
	BatterySoh         float64
	SohMeasurementTime *string
}

// rawPayload mirrors the wire shape. Numeric fields stay raw so a
// present-but-invalid value can be told apart from an absent one.
type rawPayload struct {
	DeviceName         string           `json:"device_name"`
	Voltage            *json.RawMessage `json:"voltage"`
	Current            *json.RawMessage `json:"current"`
	BatterySoh         *json.RawMessage `json:"battery_soh"`
	SohMeasurementTime *string          `json:"soh_measurement_time"`
}

// Validate checks a topic and payload and produces a validated reading
// or a *RejectError. It is a pure function with no side effects.
//
// The topic must be exactly devices/<deviceId>/data. Fields voltage,
// current and battery_soh are required and must be numeric; zero is a
// valid value, only absence and JSON null count as missing. Numeric
// strings are coerced the way producers send them; anything that does
// not parse to a finite number is rejected rather than stored as NaN.
func Validate(topic string, payload []byte) (*Reading, error) {
	deviceID, err := parseTopic(topic)
	if err != nil {
		return nil, err
	}

	// The payload must be a JSON object; a bare null, array or scalar
	// document is malformed even though some of them unmarshal cleanly
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, reject(ReasonMalformedPayload, "payload is not a JSON object")
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, reject(ReasonMalformedPayload, "payload is not a JSON object: %v", err)
	}

	voltage, err := coerceNumber("voltage", raw.Voltage)
	if err != nil {
		return nil, err
	}
	current, err := coerceNumber("current", raw.Current)
	if err != nil {
		return nil, err
	}
	batterySoh, err := coerceNumber("battery_soh", raw.BatterySoh)
	if err != nil {
		return nil, err
	}

	// Display name falls back to the device id when absent
	deviceName := raw.DeviceName
	if deviceName == "" {
		deviceName = deviceID
	}

	return &Reading{
		DeviceID:           deviceID,
		DeviceName:         deviceName,
		Voltage:            voltage,
		Current:            current,
		BatterySoh:         batterySoh,
		SohMeasurementTime: raw.SohMeasurementTime,
	}, nil
}

// parseTopic extracts the device id from devices/<deviceId>/data
func parseTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicNamespace || parts[2] != topicSuffix {
		return "", reject(ReasonMalformedTopic, "topic %q does not match %s/+/%s", topic, topicNamespace, topicSuffix)
	}
	if parts[1] == "" {
		return "", reject(ReasonMalformedTopic, "topic %q has an empty device id", topic)
	}
	return parts[1], nil
}

// coerceNumber converts a raw JSON field to float64. Absent and null
// are missing-field; present values must be a JSON number or a numeric
// string and must be finite.
func coerceNumber(field string, raw *json.RawMessage) (float64, error) {
	if raw == nil || string(*raw) == "null" {
		return 0, reject(ReasonMissingField, "required field %q is missing or null", field)
	}

	var num float64
	if err := json.Unmarshal(*raw, &num); err == nil {
		return num, nil
	}

	var str string
	if err := json.Unmarshal(*raw, &str); err != nil {
		return 0, reject(ReasonInvalidNumber, "field %q is neither a number nor a numeric string", field)
	}

	num, err := strconv.ParseFloat(str, 64)
	if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, reject(ReasonInvalidNumber, "field %q value %q is not a finite number", field, str)
	}
	return num, nil
}
