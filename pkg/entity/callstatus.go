package entity

import "fmt"

// CallStatusKey is the endpoint details field reporting call activity.
const CallStatusKey = "inCallStatus"

// CallStatus exposes whether the endpoint's room is in a call.
type CallStatus struct {
	*base
}

var _ Entity = (*CallStatus)(nil)

func NewCallStatus(src Source, endpointID string) *CallStatus {
	return &CallStatus{base: newBase(src, endpointID, CallStatusKey, "In Call Status")}
}

func (c *CallStatus) Unit() string             { return "" }
func (c *CallStatus) DeviceClass() DeviceClass { return DeviceClassNone }

func (c *CallStatus) Attach(fn func(Entity)) { c.attach(c, fn) }

// Value returns the raw status string, e.g. "NONE" or "IN_CALL".
func (c *CallStatus) Value() any {
	r := c.src.Data()
	if r == nil {
		return nil
	}
	switch v := r.Details[CallStatusKey].(type) {
	case nil:
		return nil
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (c *CallStatus) Icon() string {
	if c.Value() == "NONE" {
		return "mdi:phone-off"
	}
	return "mdi:phone"
}
