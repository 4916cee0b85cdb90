package measurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"broadband-tester/pkg/models"
)

// ErrInvalidArgument indicates a programmer or configuration error.
var ErrInvalidArgument = errors.New("invalid argument")

// Aggregate combines the outputs of one run into the immutable result
// record. It is a pure function: no I/O, and it fails only on inputs that
// violate the engine's own invariants.
func Aggregate(server models.Server, latency models.LatencyStats, download, upload models.ThroughputResult, client models.ClientInfo, now time.Time) (*models.MeasurementResult, error) {
	if server.Host == "" {
		return nil, fmt.Errorf("%w: server without a host", ErrInvalidArgument)
	}
	if latency.LossRatio < 0 || latency.LossRatio > 1 {
		return nil, fmt.Errorf("%w: loss ratio %v outside [0,1]", ErrInvalidArgument, latency.LossRatio)
	}
	if !latency.Reachable() {
		return nil, fmt.Errorf("%w: latency stats without a successful sample", ErrInvalidArgument)
	}
	if download.Direction != models.DirectionDownload {
		return nil, fmt.Errorf("%w: download result has direction %q", ErrInvalidArgument, download.Direction)
	}
	if upload.Direction != models.DirectionUpload {
		return nil, fmt.Errorf("%w: upload result has direction %q", ErrInvalidArgument, upload.Direction)
	}
	for _, t := range []models.ThroughputResult{download, upload} {
		if t.Bytes < 0 {
			return nil, fmt.Errorf("%w: negative byte count %d", ErrInvalidArgument, t.Bytes)
		}
		if t.ElapsedSeconds <= 0 {
			return nil, fmt.Errorf("%w: non-positive elapsed window %v", ErrInvalidArgument, t.ElapsedSeconds)
		}
		if t.Mbps < 0 {
			return nil, fmt.Errorf("%w: negative rate %v", ErrInvalidArgument, t.Mbps)
		}
	}

	return &models.MeasurementResult{
		ID:        uuid.NewString(),
		Timestamp: now,
		Server:    server,
		Latency:   latency,
		Download:  download,
		Upload:    upload,
		Client:    client,
	}, nil
}
