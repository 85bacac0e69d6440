package ingest

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"statusmon/internal/models"
)

// UpMetric is the series name converted from remote-write requests.
const UpMetric = "up"

// DecodeRemoteWrite reads a snappy-compressed Prometheus remote-write body.
// Bodies whose declared decoded length exceeds maxDecodedBytes are rejected
// before anything is allocated for them.
func DecodeRemoteWrite(r io.Reader, maxDecodedBytes int) (*prompb.WriteRequest, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	n, err := snappy.DecodedLen(body)
	if err != nil {
		return nil, &MalformedInputError{Reason: "snappy: " + err.Error()}
	}
	if n > maxDecodedBytes {
		return nil, &MalformedInputError{Reason: fmt.Sprintf("snappy: decoded length %d exceeds limit %d", n, maxDecodedBytes)}
	}
	decoded, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, &MalformedInputError{Reason: "snappy: " + err.Error()}
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(decoded); err != nil {
		return nil, &MalformedInputError{Reason: "protobuf: " + err.Error()}
	}
	return &req, nil
}

// FromRemoteWrite converts every `up` series into a payload. The job (or
// service) label names the service and the instance (or host) label names the
// host. The newest sample decides the status: 1 is UP, anything else DOWN.
func FromRemoteWrite(req *prompb.WriteRequest) []Payload {
	var out []Payload
	for i := range req.Timeseries {
		ts := &req.Timeseries[i]
		if len(ts.Samples) == 0 {
			continue
		}
		labels := make(map[string]string, len(ts.Labels))
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}
		if labels["__name__"] != UpMetric {
			continue
		}

		latest := ts.Samples[0]
		for _, s := range ts.Samples[1:] {
			if s.Timestamp > latest.Timestamp {
				latest = s
			}
		}
		status := models.StatusDown
		if !math.IsNaN(latest.Value) && latest.Value == 1 {
			status = models.StatusUp
		}
		observed := time.UnixMilli(latest.Timestamp).UTC()
		out = append(out, Payload{
			ServiceName:   firstLabel(labels, "job", "service"),
			ServiceStatus: string(status),
			HostName:      firstLabel(labels, "instance", "host"),
			ObservedAt:    &observed,
		})
	}
	return out
}

func firstLabel(labels map[string]string, names ...string) string {
	for _, n := range names {
		if v := labels[n]; v != "" {
			return v
		}
	}
	return ""
}
