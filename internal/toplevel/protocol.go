package toplevel

import (
	"errors"

	"github.com/pwsw/pwsw/internal/wayland"
)

var ErrNoSupportedProtocol = errors.New("compositor advertises no supported foreign-toplevel protocol")

// Protocol holds the interface name and opcodes of one foreign-toplevel variant.
type Protocol struct {
	Interface  string
	MaxVersion uint32

	managerToplevel uint16
	managerFinished uint16
	managerStop     uint16

	handleTitle   uint16
	handleAppID   uint16
	handleDone    uint16
	handleClosed  uint16
	handleDestroy uint16
}

var (
	// WLR is zwlr_foreign_toplevel_manager_v1 with zwlr_foreign_toplevel_handle_v1.
	WLR = Protocol{
		Interface:       "zwlr_foreign_toplevel_manager_v1",
		MaxVersion:      3,
		managerToplevel: 0,
		managerFinished: 1,
		managerStop:     0,
		handleTitle:     0,
		handleAppID:     1,
		handleDone:      5,
		handleClosed:    6,
		handleDestroy:   7,
	}

	// Ext is ext_foreign_toplevel_list_v1 with ext_foreign_toplevel_handle_v1.
	Ext = Protocol{
		Interface:       "ext_foreign_toplevel_list_v1",
		MaxVersion:      1,
		managerToplevel: 0,
		managerFinished: 1,
		managerStop:     0,
		handleClosed:    0,
		handleDone:      1,
		handleTitle:     2,
		handleAppID:     3,
		handleDestroy:   0,
	}
)

// Supported lists protocols in selection priority order.
var Supported = []Protocol{WLR, Ext}

// Select picks the first supported protocol the registry advertises.
func Select(registry *wayland.Registry) (Protocol, wayland.Global, error) {
	for _, p := range Supported {
		if g, ok := registry.Find(p.Interface); ok {
			return p, g, nil
		}
	}
	return Protocol{}, wayland.Global{}, ErrNoSupportedProtocol
}

func (p Protocol) bindVersion(advertised uint32) uint32 {
	return min(advertised, p.MaxVersion)
}
