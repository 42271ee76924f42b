package wayland

import (
	"fmt"
)

// Global is one interface advertised by wl_registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry is a bound wl_registry and the globals seen during the initial roundtrip.
type Registry struct {
	ID      uint32
	Globals []Global
}

// Find returns the advertised global for iface.
func (r *Registry) Find(iface string) (Global, bool) {
	for _, g := range r.Globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// GetRegistry requests the registry and collects globals until the server answers a sync.
func (c *Conn) GetRegistry() (*Registry, error) {
	registryID := c.NewID()
	if err := c.Send(NewMessage(DisplayID, displayGetRegistry).PutUint(registryID)); err != nil {
		return nil, err
	}
	callbackID := c.NewID()
	if err := c.Send(NewMessage(DisplayID, displaySync).PutUint(callbackID)); err != nil {
		return nil, err
	}

	registry := &Registry{ID: registryID}
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("wayland registry roundtrip: %w", err)
		}
		switch {
		case msg.Sender == callbackID && msg.Opcode == callbackEventDone:
			return registry, nil
		case msg.Sender == registryID && msg.Opcode == RegistryEventGlobal:
			args := msg.Args()
			g := Global{Name: args.Uint(), Interface: args.String(), Version: args.Uint()}
			if err := args.Err(); err != nil {
				return nil, fmt.Errorf("decode wl_registry.global: %w", err)
			}
			registry.Globals = append(registry.Globals, g)
		case msg.Sender == registryID && msg.Opcode == RegistryEventGlobalRemove:
			name := msg.Args().Uint()
			for i, g := range registry.Globals {
				if g.Name == name {
					registry.Globals = append(registry.Globals[:i], registry.Globals[i+1:]...)
					break
				}
			}
		}
	}
}

// Bind binds global at version and returns the new client object id.
func (c *Conn) Bind(registry *Registry, global Global, version uint32) (uint32, error) {
	id := c.NewID()
	msg := NewMessage(registry.ID, registryBind).
		PutUint(global.Name).
		PutString(global.Interface).
		PutUint(version).
		PutUint(id)
	if err := c.Send(msg); err != nil {
		return 0, fmt.Errorf("bind %s: %w", global.Interface, err)
	}
	return id, nil
}
