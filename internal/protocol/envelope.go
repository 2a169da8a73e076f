// Package protocol defines the wire envelopes exchanged between the master
// and its capture peers over the bus (spec.md §3, §6). Payloads are JSON,
// UTF-8, and decode/re-encode to an equal value modulo unspecified optional
// fields (spec.md §8).
package protocol

import "math"

// CommandID is a monotonically increasing handle for one in-flight
// coordinated capture attempt. It starts at 1 and is never reused within a
// process lifetime.
type CommandID uint64

// CommandKind distinguishes a capture request from a liveness poll.
type CommandKind string

const (
	KindCapture CommandKind = "capture"
	KindPoll    CommandKind = "poll"
)

// ResponseStatus is the outcome a peer reports for a command.
type ResponseStatus string

const (
	StatusOK      ResponseStatus = "ok"
	StatusError   ResponseStatus = "error"
	StatusOnline  ResponseStatus = "online"
	StatusTimeout ResponseStatus = "timeout"
)

// PeerID is an opaque identifier unique within the configured fleet.
type PeerID string

// IMUSnapshot is the fixed-shape inertial sensor reading embedded in a
// capture command and appended to the per-session IMU log (spec.md §3, §6).
type IMUSnapshot struct {
	Available   bool    `json:"available"`
	Error       string  `json:"error,omitempty"`
	TimestampNs int64   `json:"timestamp_ns"`
	Temperature float64 `json:"temperature"`

	AccelX float64 `json:"accel_x"`
	AccelY float64 `json:"accel_y"`
	AccelZ float64 `json:"accel_z"`

	GyroX float64 `json:"gyro_x"`
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`

	MagX float64 `json:"mag_x"`
	MagY float64 `json:"mag_y"`
	MagZ float64 `json:"mag_z"`

	LinearAccelX float64 `json:"linear_accel_x"`
	LinearAccelY float64 `json:"linear_accel_y"`
	LinearAccelZ float64 `json:"linear_accel_z"`

	GravityX float64 `json:"gravity_x"`
	GravityY float64 `json:"gravity_y"`
	GravityZ float64 `json:"gravity_z"`

	EulerHeading float64 `json:"euler_heading"`
	EulerRoll    float64 `json:"euler_roll"`
	EulerPitch   float64 `json:"euler_pitch"`

	QuatW float64 `json:"quat_w"`
	QuatX float64 `json:"quat_x"`
	QuatY float64 `json:"quat_y"`
	QuatZ float64 `json:"quat_z"`

	CalSystem uint8 `json:"cal_system"`
	CalGyro   uint8 `json:"cal_gyro"`
	CalAccel  uint8 `json:"cal_accel"`
	CalMag    uint8 `json:"cal_mag"`
}

// Unavailable builds the snapshot emitted when the sensor read failed or the
// driver reports it has no data (spec.md §7 "Sensor unavailable").
func Unavailable(reason string) IMUSnapshot {
	return IMUSnapshot{Available: false, Error: reason}
}

// Magnitude returns the triaxial acceleration magnitude used by the Movement
// Detector (spec.md §4.5).
func (s IMUSnapshot) Magnitude() float64 {
	return math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
}

// Command is the envelope published by the Issuer on topic_commands
// (spec.md §3). For Kind == KindPoll, ExposureUs and MasterIMU are zero
// valued and omitted from the wire payload.
type Command struct {
	ID          CommandID    `json:"id"`
	Kind        CommandKind  `json:"kind"`
	TIssueNs    int64        `json:"t_issue_ns"`
	ExposureUs  int          `json:"exposure_us,omitempty"`
	TimeoutMs   int          `json:"timeout_ms"`
	Notes       string       `json:"notes,omitempty"`
	MasterIMU   *IMUSnapshot `json:"master_imu,omitempty"`
}

// Response is the envelope a peer publishes on topic_responses (spec.md §3).
type Response struct {
	ID              CommandID      `json:"id"`
	Client          PeerID         `json:"client"`
	Status          ResponseStatus `json:"status"`
	StartedNs       int64          `json:"started_ns,omitempty"`
	FinishedNs      int64          `json:"finished_ns,omitempty"`
	File            string         `json:"file,omitempty"`
	JitterUs        int64          `json:"jitter_us,omitempty"`
	SessionDir      string         `json:"session_dir,omitempty"`
	PhotosInSession int            `json:"photos_in_session,omitempty"`
	Error           string         `json:"error,omitempty"`
}
