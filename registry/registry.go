// Package registry keeps recorded violations: a durable CSV log appended
// on every record plus an in-memory list of events recorded since start.
// Queries merge both, so events appear even when the log is unreadable.
package registry

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/redlight-go/violation"
)

// Log columns, header row written once
const (
	ColumnTimestamp    = "Timestamp"
	ColumnVehicleID    = "Vehicle ID"
	ColumnVehicleClass = "Vehicle Class"
	ColumnClipFilename = "Clip Filename"
)

var header = []string{ColumnTimestamp, ColumnVehicleID, ColumnVehicleClass, ColumnClipFilename}

const (
	// DefaultQueryLimit caps results returned by Query
	DefaultQueryLimit = 50
	// DefaultMemoryLimit caps events kept in memory
	DefaultMemoryLimit = 500
)

// ErrReadAnomaly describes an unreadable or corrupt log. Query logs it and falls back to memory.
var ErrReadAnomaly = errors.New("violation log read anomaly")

// Options configures Registry
type Options struct {
	// Durable log path
	Path string
	// Events kept in memory, oldest dropped first
	MemoryLimit int
	Logger      *slog.Logger
}

// Registry is safe for concurrent use
type Registry struct {
	path        string
	memoryLimit int
	logger      *slog.Logger

	mu     sync.Mutex
	recent []violation.Event
}

// Open prepares the log file (creating parent directories and header when needed)
func Open(opts Options) (*Registry, error) {
	if opts.Path == "" {
		return nil, errors.New("registry: empty log path")
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		path:        opts.Path,
		memoryLimit: opts.MemoryLimit,
		logger:      opts.Logger.With("component", "registry"),
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "can't create log dir")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns durable log path
func (r *Registry) Path() string {
	return r.path
}

// ensureHeader writes header into missing or empty log. Caller holds mu.
func (r *Registry) ensureHeader() error {
	info, err := os.Stat(r.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "can't stat violation log")
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "can't create violation log")
	}
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		file.Close()
		return errors.Wrap(err, "can't write log header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return errors.Wrap(err, "can't write log header")
	}
	return file.Close()
}

// Record appends event to the log and to memory.
// Memory is updated even when the durable write fails; the error is returned for reporting.
func (r *Registry) Record(event violation.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recent = append(r.recent, event)
	if over := len(r.recent) - r.memoryLimit; over > 0 {
		r.recent = append(r.recent[:0:0], r.recent[over:]...)
	}

	if err := r.ensureHeader(); err != nil {
		return err
	}
	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "can't open violation log")
	}
	w := csv.NewWriter(file)
	err = w.Write([]string{
		event.Timestamp.Format(violation.TimestampLayout),
		strconv.Itoa(event.TrackID),
		event.VehicleClass,
		event.ClipFilename,
	})
	if err == nil {
		w.Flush()
		err = w.Error()
	}
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "can't append violation of track %d", event.TrackID)
	}
	return nil
}

// Query returns at most limit events newest first with unique clip filenames.
// limit <= 0 means DefaultQueryLimit.
func (r *Registry) Query(limit int) []violation.Event {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	r.mu.Lock()
	durable, err := r.readTail(limit)
	recent := make([]violation.Event, len(r.recent))
	copy(recent, r.recent)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("falling back to in-memory violations", "path", r.path, "error", err.Error())
		durable = nil
	}
	return merge(limit, durable, recent)
}

// merge scans lists newest to oldest keeping the first occurrence of each clip.
// Every list is ordered oldest first and later lists are newer.
func merge(limit int, lists ...[]violation.Event) []violation.Event {
	out := make([]violation.Event, 0, limit)
	seen := make(map[string]struct{})
	for l := len(lists) - 1; l >= 0; l-- {
		events := lists[l]
		for i := len(events) - 1; i >= 0; i-- {
			if len(out) == limit {
				return out
			}
			if _, ok := seen[events[i].ClipFilename]; ok {
				continue
			}
			seen[events[i].ClipFilename] = struct{}{}
			out = append(out, events[i])
		}
	}
	return out
}

// readTail parses the log and returns its last limit events. Rows that can't be parsed
// are skipped; only an unreadable file or header is an anomaly. Caller holds mu.
func (r *Registry) readTail(limit int) ([]violation.Event, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, errors.Wrapf(ErrReadAnomaly, "can't open log: %v", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	head, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(ErrReadAnomaly, "can't read header: %v", err)
	}
	columns := make(map[string]int, len(head))
	for i, name := range head {
		columns[name] = i
	}
	for _, name := range header {
		if _, ok := columns[name]; !ok {
			return nil, errors.Wrapf(ErrReadAnomaly, "missing column '%s'", name)
		}
	}

	tail := make([]violation.Event, 0, limit)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.logger.Warn("skipping malformed violation row", "path", r.path, "line", parseErr.StartLine, "error", parseErr.Error())
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(ErrReadAnomaly, "line %d: %v", line, err)
		}
		event, err := parseRecord(record, columns)
		if err != nil {
			r.logger.Warn("skipping malformed violation row", "path", r.path, "line", line, "error", err.Error())
			continue
		}
		if len(tail) == limit {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, event)
	}
	return tail, nil
}

func parseRecord(record []string, columns map[string]int) (violation.Event, error) {
	field := func(name string) (string, error) {
		idx := columns[name]
		if idx >= len(record) {
			return "", errors.Errorf("missing field '%s'", name)
		}
		return record[idx], nil
	}
	rawTS, err := field(ColumnTimestamp)
	if err != nil {
		return violation.Event{}, err
	}
	ts, err := time.ParseInLocation(violation.TimestampLayout, rawTS, time.Local)
	if err != nil {
		return violation.Event{}, errors.Wrap(err, "bad timestamp")
	}
	rawID, err := field(ColumnVehicleID)
	if err != nil {
		return violation.Event{}, err
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return violation.Event{}, errors.Wrap(err, "bad vehicle id")
	}
	class, err := field(ColumnVehicleClass)
	if err != nil {
		return violation.Event{}, err
	}
	clipName, err := field(ColumnClipFilename)
	if err != nil {
		return violation.Event{}, err
	}
	return violation.Event{
		Timestamp:    ts,
		TrackID:      id,
		VehicleClass: class,
		ClipFilename: clipName,
	}, nil
}
