package hwinfo

import (
	"sync"

	"github.com/1broseidon/dispcore/internal/display"
)

// StaticDisplay is one display served by the static backend.
type StaticDisplay struct {
	ID     int32
	Status display.Status
}

// StaticOptions configure the static backend. Resources also seed the
// capability limits reported by the X11 backend.
type StaticOptions struct {
	Displays  []StaticDisplay
	Resources ResourceInfo
}

// Static serves a fixed topology, typically from the config file. SetStatus
// and Remove let callers simulate hotplug.
type Static struct {
	mu        sync.Mutex
	resources ResourceInfo
	status    map[int32]display.Status
	destroyed bool
}

var _ Provider = (*Static)(nil)

// NewStatic creates a static provider.
func NewStatic(opts StaticOptions) *Static {
	res := opts.Resources
	if res.MaxDisplays == nil && res.NumBlendStages == 0 {
		res = DefaultResourceInfo()
	}
	status := make(map[int32]display.Status, len(opts.Displays))
	for _, d := range opts.Displays {
		status[d.ID] = d.Status
	}
	return &Static{
		resources: res.Clone(),
		status:    status,
	}
}

func (s *Static) GetHWResourceInfo() (ResourceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("resource info"); err != nil {
		return ResourceInfo{}, err
	}
	return s.resources.Clone(), nil
}

func (s *Static) GetDisplaysStatus() (map[int32]display.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("displays status"); err != nil {
		return nil, err
	}
	out := make(map[int32]display.Status, len(s.status))
	for id, st := range s.status {
		out[id] = st
	}
	return out, nil
}

func (s *Static) GetFirstDisplayInterfaceType() (InterfaceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("first display interface"); err != nil {
		return InterfaceInfo{}, err
	}
	return firstInterface(s.status)
}

func (s *Static) GetMaxDisplaysSupported(t display.Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("max displays"); err != nil {
		return 0, err
	}
	return maxDisplays(s.resources, t)
}

// SetStatus adds or replaces the status of id.
func (s *Static) SetStatus(id int32, st display.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = st
}

// Remove drops id from the topology.
func (s *Static) Remove(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, id)
}

func (s *Static) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	return nil
}

func (s *Static) checkLocked(op string) error {
	if s.destroyed {
		return display.E(display.KindUndefined, op, "provider destroyed")
	}
	return nil
}
