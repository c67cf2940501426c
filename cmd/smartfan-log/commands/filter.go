package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/homewerks-local/smartfan-go/pkg/log"
)

// FilterOptions selects the events copied by RunFilter.
type FilterOptions struct {
	Output    string
	ConnID    string
	Key       string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// BuildFilter converts string options into a reader filter.
func BuildFilter(opts FilterOptions) (log.Filter, error) {
	f := log.Filter{ConnectionID: opts.ConnID, Key: opts.Key}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start: %w", err)
		}
		f.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end: %w", err)
		}
		f.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := ParseLayerFlag(opts.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if opts.Direction != "" {
		d, err := ParseDirectionFlag(opts.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

// RunFilter copies matching events from path into a new capture file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := BuildFilter(opts)
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	n := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Close()
			return n, fmt.Errorf("failed to read event: %w", err)
		}
		out.Log(event)
		n++
	}
	return n, out.Close()
}
