package extension

import (
	"sync"

	"github.com/1broseidon/dispcore/internal/display"
)

// State is the lifecycle state of a Loader.
type State int

const (
	// Absent means no module is open.
	Absent State = iota
	// Opened means the module is open but its entry points are unresolved.
	Opened
	// Loaded means both entry points resolved and no interface exists yet.
	Loaded
	// Initialized means the create entry point returned an interface.
	Initialized
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Opened:
		return "opened"
	case Loaded:
		return "loaded"
	case Initialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Loader drives the open, resolve, create protocol of one extension module.
// Each step is a separate call so the caller can undo exactly the steps that
// succeeded.
type Loader struct {
	opener Opener

	mu      sync.Mutex
	name    string
	state   State
	lib     Library
	create  CreateFunc
	destroy DestroyFunc
	intf    Interface
}

// NewLoader returns a loader that opens modules with opener.
func NewLoader(opener Opener) *Loader {
	if opener == nil {
		opener = RegistryOpener{}
	}
	return &Loader{opener: opener}
}

// Open opens the named module. A failure leaves the loader Absent.
func (l *Loader) Open(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Absent {
		return display.E(display.KindParameters, "extension open", "module %s already open", l.name)
	}
	lib, err := l.opener.Open(name)
	if err != nil {
		return err
	}
	l.name = name
	l.lib = lib
	l.state = Opened
	return nil
}

// Resolve looks up both entry points. A missing or mistyped symbol is an
// ErrUndefined error.
func (l *Loader) Resolve() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Opened {
		return display.E(display.KindUndefined, "extension resolve", "module not open")
	}

	createSym, err := l.lib.Lookup(CreateSymbol)
	if err != nil {
		return display.Wrap(display.KindUndefined, "extension resolve", err)
	}
	create, ok := asCreate(createSym)
	if !ok {
		return display.E(display.KindUndefined, "extension resolve", "%s has type %T", CreateSymbol, createSym)
	}

	destroySym, err := l.lib.Lookup(DestroySymbol)
	if err != nil {
		return display.Wrap(display.KindUndefined, "extension resolve", err)
	}
	destroy, ok := asDestroy(destroySym)
	if !ok {
		return display.E(display.KindUndefined, "extension resolve", "%s has type %T", DestroySymbol, destroySym)
	}

	l.create = create
	l.destroy = destroy
	l.state = Loaded
	return nil
}

// Create calls the create entry point with tag. Its error is returned
// unchanged.
func (l *Loader) Create(tag string) (Interface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Loaded {
		return nil, display.E(display.KindUndefined, "extension create", "entry points not resolved")
	}
	intf, err := l.create(tag)
	if err != nil {
		return nil, err
	}
	if intf == nil {
		return nil, display.E(display.KindUndefined, "extension create", "%s returned no interface", CreateSymbol)
	}
	l.intf = intf
	l.state = Initialized
	return intf, nil
}

// Destroy hands the interface back to the module. It is a no-op unless the
// loader is Initialized.
func (l *Loader) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Initialized {
		return
	}
	l.destroy(l.intf)
	l.intf = nil
	l.state = Loaded
}

// Close closes the module and returns the loader to Absent. An existing
// interface is destroyed first.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Initialized {
		l.destroy(l.intf)
		l.intf = nil
	}
	if l.state == Absent {
		return nil
	}
	err := l.lib.Close()
	l.lib = nil
	l.create = nil
	l.destroy = nil
	l.name = ""
	l.state = Absent
	return err
}

// Interface returns the created interface, or nil.
func (l *Loader) Interface() Interface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intf
}

func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Name returns the open module name, or "" when Absent.
func (l *Loader) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}
