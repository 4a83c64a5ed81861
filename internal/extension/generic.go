package extension

import (
	"fmt"

	"github.com/1broseidon/dispcore/internal/display"
)

// GenericName is the name the built-in extension is registered under.
const GenericName = "generic"

func init() {
	Register(GenericName, Symbols{
		CreateSymbol:  CreateFunc(newGeneric),
		DestroySymbol: DestroyFunc(func(Interface) {}),
	})
}

// generic is a statically linked extension for hardware with a YUV capable
// rotator and a camera path that needs extra bandwidth headroom.
type generic struct{}

func newGeneric(tag string) (Interface, error) {
	if tag != VersionTag {
		return nil, display.E(display.KindNotSupported, "generic extension", "unsupported version tag %q", tag)
	}
	return generic{}, nil
}

func (generic) Name() string    { return GenericName }
func (generic) Version() string { return VersionTag }

func (generic) RotatorFormats() []display.Format {
	return []display.Format{display.FormatYCbCr420SP}
}

func (generic) BandwidthScale(mode string) int {
	if mode == "camera" {
		return 125
	}
	return 100
}

func (g generic) String() string {
	return fmt.Sprintf("%s (%s)", g.Name(), g.Version())
}
