package gate

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

// SubscriptionRegistry resolves a tenant to its subscription tier.
// Reads reflect the table as of the call, so tier changes take effect
// on the next admission check.
type SubscriptionRegistry interface {
	GetTier(tenantID string) models.SubscriptionTier
}

// TierTable is the parsed tier reference data: named tiers, per-tenant
// assignments, and the tier used for unassigned tenants
type TierTable struct {
	Tiers       map[string]models.SubscriptionTier `yaml:"tiers"`
	Tenants     map[string]string                  `yaml:"tenants"`
	DefaultTier string                             `yaml:"default_tier"`
}

// Validate checks the table for structural errors. An invalid table at
// startup halts initialization; an invalid reload is rejected.
func (t *TierTable) Validate() error {
	if len(t.Tiers) == 0 {
		return fmt.Errorf("tier table defines no tiers")
	}
	if t.DefaultTier == "" {
		return fmt.Errorf("tier table has no default_tier")
	}
	if _, ok := t.Tiers[t.DefaultTier]; !ok {
		return fmt.Errorf("default_tier %q is not a defined tier", t.DefaultTier)
	}
	for name, tier := range t.Tiers {
		if tier.MaxAgents < 0 || tier.MaxBatchOperationSize < 0 || tier.MaxConcurrentBatches < 0 {
			return fmt.Errorf("tier %q has a negative limit", name)
		}
		for class, rl := range tier.RateLimits {
			if rl.Limit < 0 || rl.Window < 0 {
				return fmt.Errorf("tier %q has an invalid rate limit for class %q", name, class)
			}
		}
	}
	for tenant, tierName := range t.Tenants {
		if _, ok := t.Tiers[tierName]; !ok {
			return fmt.Errorf("tenant %q assigned to undefined tier %q", tenant, tierName)
		}
	}
	return nil
}

// DefaultTierTable returns the built-in table used when no file is
// configured: a free tier and a priority tier.
func DefaultTierTable() TierTable {
	return TierTable{
		Tiers: map[string]models.SubscriptionTier{
			"free": {
				Name:                  "free",
				MaxAgents:             5,
				MaxBatchOperationSize: 10,
				MaxConcurrentBatches:  2,
				PriorityQueue:         false,
			},
			"pro": {
				Name:                  "pro",
				MaxAgents:             50,
				MaxBatchOperationSize: 100,
				MaxConcurrentBatches:  10,
				PriorityQueue:         true,
				PriorityWeight:        10,
			},
		},
		Tenants:     map[string]string{},
		DefaultTier: "free",
	}
}

// FileRegistry is a SubscriptionRegistry backed by a YAML file,
// reloaded on change so tier edits apply without a restart
type FileRegistry struct {
	mu     sync.RWMutex
	table  TierTable
	path   string
	logger logging.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStaticRegistry creates a registry over a fixed table
func NewStaticRegistry(table TierTable) (*FileRegistry, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tier table: %w", err)
	}
	return &FileRegistry{table: table}, nil
}

// LoadFileRegistry parses and validates the tier file
func LoadFileRegistry(path string, logger logging.Logger) (*FileRegistry, error) {
	table, err := loadTierFile(path)
	if err != nil {
		return nil, err
	}
	return &FileRegistry{table: table, path: path, logger: logger}, nil
}

func loadTierFile(path string) (TierTable, error) {
	var table TierTable

	data, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("failed to read tier file: %w", err)
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return table, fmt.Errorf("failed to parse tier file: %w", err)
	}
	if err := table.Validate(); err != nil {
		return table, fmt.Errorf("invalid tier table: %w", err)
	}
	return table, nil
}

// GetTier resolves a tenant's tier, falling back to the default tier
func (r *FileRegistry) GetTier(tenantID string) models.SubscriptionTier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.table.Tenants[tenantID]
	if !ok {
		name = r.table.DefaultTier
	}
	tier, ok := r.table.Tiers[name]
	if !ok {
		tier = r.table.Tiers[r.table.DefaultTier]
	}
	return tier
}

// Watch starts reloading the tier file on filesystem changes. A reload
// that fails validation is logged and discarded, keeping the previous
// table in effect.
func (r *FileRegistry) Watch() error {
	if r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create tier watcher: %w", err)
	}
	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch tier file: %w", err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})

	r.wg.Add(1)
	go r.watchLoop()

	return nil
}

func (r *FileRegistry) watchLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			table, err := loadTierFile(r.path)
			if err != nil {
				if r.logger != nil {
					r.logger.Warn("tier table reload rejected", logging.Err(err))
				}
				continue
			}
			r.mu.Lock()
			r.table = table
			r.mu.Unlock()
			if r.logger != nil {
				r.logger.Info("tier table reloaded", logging.String("path", r.path))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if r.logger != nil {
				r.logger.Warn("tier watcher error", logging.Err(err))
			}
		}
	}
}

// Close stops the watcher
func (r *FileRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	err := r.watcher.Close()
	r.wg.Wait()
	r.watcher = nil
	return err
}
