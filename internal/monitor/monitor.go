// Package monitor records training metrics as plain-text series files.
//
// Every series is a file <dir>/<name>.series.txt with one "<index> <value>" line per
// record. Only the leader of a run writes; monitors of other workers are disabled
// and every call on them is a no-op.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const logFile = "log.txt"

// Monitor owns a directory of series files and a free-text log.
type Monitor struct {
	dir     string
	enabled bool

	mu      sync.Mutex
	series  map[string]*Series
	sums    map[string]float64
	weights map[string]float64
	order   []string
}

// New creates a monitor writing under dir. A disabled monitor never touches the
// filesystem.
func New(dir string, enabled bool) (*Monitor, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create monitor directory")
		}
	}
	return &Monitor{
		dir:     dir,
		enabled: enabled,
		series:  make(map[string]*Series),
		sums:    make(map[string]float64),
		weights: make(map[string]float64),
	}, nil
}

// Dir returns the monitor directory.
func (m *Monitor) Dir() string {
	return m.dir
}

// Enabled reports whether the monitor writes anything.
func (m *Monitor) Enabled() bool {
	return m.enabled
}

// Series returns the series called name, creating it on first use.
func (m *Monitor) Series(name string) *Series {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seriesLocked(name)
}

func (m *Monitor) seriesLocked(name string) *Series {
	s, ok := m.series[name]
	if !ok {
		s = &Series{
			name:    name,
			path:    filepath.Join(m.dir, fileName(name)+".series.txt"),
			enabled: m.enabled,
		}
		m.series[name] = s
	}
	return s
}

// Update adds value with the given weight to the running average of name.
func (m *Monitor) Update(name string, value, weight float64) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.weights[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sums[name] += value * weight
	m.weights[name] += weight
}

// Average returns the current running average of name.
func (m *Monitor) Average(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.weights[name]
	if !ok || w == 0 {
		return 0, false
	}
	return m.sums[name] / w, true
}

// Flush writes every running average to its series at index epoch and resets them.
func (m *Monitor) Flush(epoch int) error {
	if !m.enabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var parts []string
	for _, name := range m.order {
		w := m.weights[name]
		if w == 0 {
			continue
		}
		avg := m.sums[name] / w
		if err := m.seriesLocked(name).Add(epoch, avg); err != nil {
			return err
		}
		parts = append(parts, fmt.Sprintf("%s=%.5f", name, avg))
	}
	if len(parts) > 0 {
		klog.Infof("epoch %d: %s", epoch, strings.Join(parts, " "))
	}

	m.order = m.order[:0]
	clear(m.sums)
	clear(m.weights)
	return nil
}

// Info logs msg and appends it to <dir>/log.txt.
func (m *Monitor) Info(msg string) error {
	if !m.enabled {
		return nil
	}
	msg = strings.TrimRight(msg, "\n")
	klog.Info(msg)
	return appendLine(filepath.Join(m.dir, logFile), msg)
}

// Series is one named sequence of scalar records.
type Series struct {
	name    string
	path    string
	enabled bool
	mu      sync.Mutex
}

// Name returns the series name.
func (s *Series) Name() string {
	return s.name
}

// Path returns the file the series appends to.
func (s *Series) Path() string {
	return s.path
}

// Add appends "<index> <value>".
func (s *Series) Add(index int, value float64) error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.path, strconv.Itoa(index)+" "+strconv.FormatFloat(value, 'g', -1, 64))
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "append to %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// fileName maps a metric name such as "train/l_mel" to "train-l_mel".
func fileName(name string) string {
	return strings.NewReplacer("/", "-", " ", "-", "\\", "-").Replace(name)
}
