package manager

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/jcsp/pgautoscale/internal/log"
)

// FileManager is a concrete Manager backed by a directory of JSON
// fixture files, one per blob name, plus a single state file for
// persisted config. The real cluster manager transport is out of
// scope for this module (spec.md §1); FileManager is what lets
// cmd/pgautoscaled run standalone against a captured cluster snapshot
// instead of a live monitor connection.
type FileManager struct {
	mu        sync.Mutex
	blobDir   string
	stateFile string
}

// NewFileManager builds a FileManager reading blobs from blobDir and
// persisting config to stateFile.
func NewFileManager(blobDir, stateFile string) *FileManager {
	return &FileManager{blobDir: blobDir, stateFile: stateFile}
}

// Get reads "<blobDir>/<name>.json" verbatim.
func (f *FileManager) Get(name string) ([]byte, error) {
	path := filepath.Join(f.blobDir, name+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read blob %s", name)
	}
	return raw, nil
}

// SendCommand simulates an immediately-acknowledged monitor command;
// a real Manager would route this over the mon session and complete
// it asynchronously once the monitors reply.
func (f *FileManager) SendCommand(target, prefix string, args map[string]interface{}) *Command {
	cmd := NewCommand()
	log.Debugf("manager: simulated command to %s: %s %v", target, prefix, args)
	cmd.Complete(0, "", "")
	return cmd
}

// SetHealthChecks logs the health checks this module would publish.
func (f *FileManager) SetHealthChecks(checks map[string]HealthCheck) {
	for name, check := range checks {
		log.Infof("health check %s [%s]: %s", name, check.Severity, check.Summary)
	}
}

// GetConfigJSON reads the persisted state file, (nil, nil) if absent.
func (f *FileManager) GetConfigJSON(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read config key %s", key)
	}
	return raw, nil
}

// SetConfigJSON writes the persisted state file atomically enough for
// a single-writer workload: write to a temp file, then rename.
func (f *FileManager) SetConfigJSON(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return errors.Wrapf(err, "write config key %s", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "commit config key %s", key)
	}
	return nil
}

func (f *FileManager) pathFor(key string) string {
	if key == "state" {
		return f.stateFile
	}
	return filepath.Join(filepath.Dir(f.stateFile), key+".json")
}
