// Package snapshot reads transit networks from YAML files, for runs that
// have no database behind them.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"fleetsim/internal/transit"
)

// FileRepository loads a network snapshot from a YAML file on every call.
type FileRepository struct {
	Path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{Path: path}
}

func (r *FileRepository) LoadSnapshot(ctx context.Context) (*transit.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.Path, err)
	}
	logrus.WithFields(logrus.Fields{
		"file":   r.Path,
		"stops":  len(snap.Stops),
		"routes": len(snap.Routes),
		"buses":  len(snap.Buses),
	}).Debug("snapshot loaded")
	return snap, nil
}

// stopNode mirrors transit.Stop with optional coordinates: a stop without
// lat/lon in the file has no location.
type stopNode struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Lat    *float64 `yaml:"lat"`
	Lon    *float64 `yaml:"lon"`
	AreaID string   `yaml:"area_id"`
}

type document struct {
	Stops    []stopNode             `yaml:"stops"`
	Routes   []transit.Route        `yaml:"routes"`
	BusTypes []transit.BusType      `yaml:"bus_types"`
	Buses    []transit.Bus          `yaml:"buses"`
	Demand   []transit.DemandRecord `yaml:"demand"`
}

// Decode parses one YAML snapshot document. Unknown keys are rejected so
// that typos don't silently drop data.
func Decode(r io.Reader) (*transit.Snapshot, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty snapshot document")
		}
		return nil, err
	}
	snap := &transit.Snapshot{
		Routes:   doc.Routes,
		BusTypes: doc.BusTypes,
		Buses:    doc.Buses,
		Demand:   doc.Demand,
	}
	for _, n := range doc.Stops {
		st := transit.Stop{ID: n.ID, Name: n.Name, AreaID: n.AreaID}
		if n.Lat != nil && n.Lon != nil {
			st.Lat, st.Lon, st.HasLoc = *n.Lat, *n.Lon, true
		}
		snap.Stops = append(snap.Stops, st)
	}
	return snap, nil
}
