package deploylock

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record describes the holder of a lock. It is written once when the lock is
// claimed and never modified.
type Record struct {
	Reason        string    `json:"reason"`
	Branch        string    `json:"branch"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
	Sticky        bool      `json:"sticky"`
	Environment   string    `json:"environment"`
	Global        bool      `json:"global"`
	UnlockCommand string    `json:"unlock_command"`
	Link          string    `json:"link"`
}

// MarshalJSON writes a missing reason as null
func (r Record) MarshalJSON() ([]byte, error) {
	type record Record

	var reason *string
	if r.Reason != "" {
		reason = &r.Reason
	}

	return json.Marshal(struct {
		Reason *string `json:"reason"`
		record
	}{
		Reason: reason,
		record: record(r),
	})
}

// Scope returns the scope the record locks
func (r Record) Scope() Scope {
	if r.Global {
		return GlobalScope()
	}
	return EnvironmentScope(r.Environment)
}

// Age returns the time elapsed since the lock was created, formatted as Xd:Xh:Xm:Xs
func (r Record) Age(now time.Time) string {
	return FormatAge(now.Sub(r.CreatedAt))
}

// FormatAge formats a duration as Xd:Xh:Xm:Xs. Negative durations count as zero.
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dd:%dh:%dm:%ds", days, hours, minutes, seconds)
}

// EncodeRecord serializes the record as JSON and encodes it in base64,
// the form in which it is handed to the store
func EncodeRecord(r Record) ([]byte, error) {
	r.CreatedAt = r.CreatedAt.UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return nil, NewWrappedError(ErrEncodingRecord, err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(encoded, data)
	return encoded, nil
}

// DecodeRecord reverses EncodeRecord
func DecodeRecord(content []byte) (Record, error) {
	data, err := base64.StdEncoding.DecodeString(string(content))
	if err != nil {
		return Record{}, NewWrappedError(ErrDecodingRecord, err)
	}

	record := Record{}
	if err = json.Unmarshal(data, &record); err != nil {
		return Record{}, NewWrappedError(ErrDecodingRecord, err)
	}

	// a JSON null decodes without error
	if record == (Record{}) {
		return Record{}, NewWrappedError(ErrDecodingRecord, errors.New("empty lock record"))
	}

	return record, nil
}
