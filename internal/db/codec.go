package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/career-pipeline/internal/types"
)

// ErrVersionConflict is returned by SaveRun when the stored version no longer
// matches the record being written.
var ErrVersionConflict = errors.New("run was modified concurrently")

// encodedRun holds the JSON columns of a run row
type encodedRun struct {
	snapshot      []byte
	errorLog      []byte
	missingFields []byte
}

func encodeRun(run *types.RunRecord) (encodedRun, error) {
	var enc encodedRun
	var err error
	if enc.snapshot, err = json.Marshal(run.Snapshot); err != nil {
		return enc, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if enc.errorLog, err = json.Marshal(nonNil(run.ErrorLog)); err != nil {
		return enc, fmt.Errorf("failed to marshal error log: %w", err)
	}
	if enc.missingFields, err = json.Marshal(nonNil(run.MissingFields)); err != nil {
		return enc, fmt.Errorf("failed to marshal missing fields: %w", err)
	}
	return enc, nil
}

func (enc encodedRun) decode(run *types.RunRecord) error {
	if len(enc.snapshot) > 0 {
		if err := json.Unmarshal(enc.snapshot, &run.Snapshot); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}
	if err := unmarshalStrings(enc.errorLog, &run.ErrorLog); err != nil {
		return fmt.Errorf("failed to unmarshal error log: %w", err)
	}
	if err := unmarshalStrings(enc.missingFields, &run.MissingFields); err != nil {
		return fmt.Errorf("failed to unmarshal missing fields: %w", err)
	}
	return nil
}

func unmarshalStrings(data []byte, dst *[]string) error {
	*dst = []string{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = []string{}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
