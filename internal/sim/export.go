package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var csvHeader = []string{"time", "stop_id", "event", "onboard", "waiting", "boarded", "alighted", "direction", "status"}

// WriteBusCSV writes one bus's event log. Events without a stop carry "none".
func WriteBusCSV(w io.Writer, events []BusEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, ev := range events {
		stop := ev.StopID
		if stop == "" {
			stop = "none"
		}
		rec := []string{
			strconv.Itoa(ev.Time),
			stop,
			ev.Description,
			strconv.Itoa(ev.Onboard),
			strconv.Itoa(ev.Waiting),
			strconv.Itoa(ev.Boarded),
			strconv.Itoa(ev.Alighted),
			ev.Direction,
			string(ev.Status),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes <dir>/<bus>.csv for every bus of the run.
func ExportCSV(dir string, r *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	for _, b := range r.Buses {
		path := filepath.Join(dir, b.ID+".csv")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		werr := WriteBusCSV(f, b.Events)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("write %s: %w", path, werr)
		}
		if cerr != nil {
			return fmt.Errorf("close %s: %w", path, cerr)
		}
	}
	return nil
}
