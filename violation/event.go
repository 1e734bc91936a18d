package violation

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// TimestampLayout is the wall clock format of events in logs and responses
const TimestampLayout = "2006-01-02 15:04:05"

// Event is a recorded violation. One per violating track, immutable once created.
type Event struct {
	Timestamp    time.Time
	TrackID      int
	VehicleClass string
	// Clip artifact name, unique per violation
	ClipFilename string
}

// eventJSON keeps the field names the log header uses
type eventJSON struct {
	Timestamp    string `json:"Timestamp"`
	VehicleID    string `json:"Vehicle ID"`
	VehicleClass string `json:"Vehicle Class"`
	ClipFilename string `json:"Clip Filename"`
}

// MarshalJSON implements json.Marshaler
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Timestamp:    e.Timestamp.Format(TimestampLayout),
		VehicleID:    strconv.Itoa(e.TrackID),
		VehicleClass: e.VehicleClass,
		ClipFilename: e.ClipFilename,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Timestamps are read in local time.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.Local)
	if err != nil {
		return errors.Wrap(err, "bad timestamp")
	}
	id, err := strconv.Atoi(raw.VehicleID)
	if err != nil {
		return errors.Wrap(err, "bad vehicle id")
	}
	*e = Event{
		Timestamp:    ts,
		TrackID:      id,
		VehicleClass: raw.VehicleClass,
		ClipFilename: raw.ClipFilename,
	}
	return nil
}
