package pulse

// SensorData is the body of GET orgs/{org}/endpoints/{id}/sensor.
// Data points are newest first; values are left as decoded JSON
// (numbers as json.Number) so callers decide how to coerce them.
type SensorData struct {
	EndpointData struct {
		Data []DataPoint `json:"data"`
	} `json:"endpointData"`
}

// DataPoint is one sample of every sensor an endpoint reports.
type DataPoint map[string]any

// Latest returns the most recent data point, or nil when there is none.
func (s *SensorData) Latest() DataPoint {
	if s == nil || len(s.EndpointData.Data) == 0 {
		return nil
	}
	return s.EndpointData.Data[0]
}

// EndpointDetails is the raw endpoint metadata document.
type EndpointDetails map[string]any

// String returns the string value at key, or "" when it is absent or not a
// string.
func (d EndpointDetails) String(key string) string {
	s, _ := d[key].(string)
	return s
}
