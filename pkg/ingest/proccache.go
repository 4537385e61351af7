package ingest

import (
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is the cached identity of one pid.
type ProcessInfo struct {
	Name    string `json:"name"`
	Exe     string `json:"exe"`
	Cmdline string `json:"cmdline"`
}

// processCache maps pid to resolved process info. Entries are resolved at
// most once per pid and never evicted; a recycled pid keeps its old identity
// until restart.
type processCache struct {
	mu      sync.RWMutex
	entries map[int32]ProcessInfo
}

func newProcessCache() *processCache {
	return &processCache{entries: make(map[int32]ProcessInfo)}
}

func (c *processCache) lookup(pid int32) (ProcessInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[pid]
	return info, ok
}

func (c *processCache) store(pid int32, info ProcessInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pid] = info
}

func (c *processCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// resolve queries the OS for the pid's identity. Partial failures (exe or
// cmdline unreadable) still yield a usable entry as long as the name resolves.
func resolveProcess(pid int32) (ProcessInfo, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessInfo{}, err
	}
	name, err := proc.Name()
	if err != nil {
		return ProcessInfo{}, err
	}
	exe, _ := proc.Exe()
	args, _ := proc.CmdlineSlice()
	return ProcessInfo{
		Name:    name,
		Exe:     exe,
		Cmdline: strings.Join(args, " "),
	}, nil
}
