package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"xscraper/pkg/logger"
	"xscraper/pkg/scraper"
	"xscraper/pkg/storage"
)

const currentVersion = 1

// Checkpoint is the saved progress of a run
type Checkpoint struct {
	RunID     string                           `json:"run_id"`
	Output    string                           `json:"output"`
	Keywords  map[string]scraper.KeywordResult `json:"keywords"`
	CreatedAt time.Time                        `json:"created_at"`
	UpdatedAt time.Time                        `json:"updated_at"`
	Version   int                              `json:"version"`
}

// Manager handles checkpoint operations for one output target
type Manager struct {
	checkpointPath string
	logger         logger.Logger
	mu             sync.Mutex
}

// NewManager creates a manager for the run writing to output. Checkpoints
// live in dir, or in the platform data directory when dir is empty.
func NewManager(dir, output string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Manager{
		checkpointPath: filepath.Join(dir, Key(output)+".checkpoint.json"),
		logger:         log.WithField("component", "checkpoint"),
	}, nil
}

// Key names the checkpoint of an output path. Relative and absolute spellings of one path share a key.
func Key(output string) string {
	if abs, err := filepath.Abs(output); err == nil {
		output = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+output)).String()
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create starts a fresh checkpoint and saves it
func (m *Manager) Create(runID, output string) (*Checkpoint, error) {
	now := time.Now()
	cp := &Checkpoint{
		RunID:     runID,
		Output:    output,
		Keywords:  make(map[string]scraper.KeywordResult),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   currentVersion,
	}

	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"run_id": runID,
		"path":   m.checkpointPath,
	})
	return cp, nil
}

// Load reads the checkpoint. It returns nil without error when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version > currentVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, currentVersion)
	}
	if cp.Keywords == nil {
		cp.Keywords = make(map[string]scraper.KeywordResult)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"run_id":     cp.RunID,
		"keywords":   len(cp.Keywords),
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes the checkpoint atomically
func (m *Manager) Save(cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(cp)
}

func (m *Manager) saveLocked(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := storage.WriteFileAtomic(m.checkpointPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"run_id":   cp.RunID,
		"keywords": len(cp.Keywords),
	})
	return nil
}

// Record stores a finished keyword and saves the checkpoint
func (m *Manager) Record(cp *Checkpoint, res scraper.KeywordResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp.Keywords[res.Keyword] = res
	return m.saveLocked(cp)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// Resume splits requests into those still to run and those already done.
// A keyword is done when it was satisfied with at least the requested target;
// anything else runs again, seeded with the records it already has.
func (cp *Checkpoint) Resume(requests []scraper.Request) (pending []scraper.Request, done []scraper.KeywordResult) {
	for _, req := range requests {
		prev, ok := cp.Keywords[req.Keyword]
		if !ok {
			pending = append(pending, req)
			continue
		}
		if prev.Outcome == scraper.Satisfied && len(prev.Records) >= req.Target {
			done = append(done, prev)
			continue
		}
		req.Seed = append(req.Seed, prev.Records...)
		pending = append(pending, req)
	}
	return pending, done
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "xscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "xscraper")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "xscraper")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "xscraper")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
