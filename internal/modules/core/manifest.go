package core

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"gopkg.in/yaml.v3"
)

// Manifest defines the structure of a module manifest (inspired by subgraph manifests)
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description,omitempty"`
	DataSources []DataSource `yaml:"dataSources"`
}

// DataSource defines a contract family to watch
type DataSource struct {
	Kind    string            `yaml:"kind"` // "ethereum/contract"
	Name    string            `yaml:"name"`
	Source  DataSourceSource  `yaml:"source"`
	Mapping DataSourceMapping `yaml:"mapping"`
}

// DataSourceSource names the ABI; addresses come from per-chain config
type DataSourceSource struct {
	ABI string `yaml:"abi"`
}

// DataSourceMapping defines how to handle events from this data source
type DataSourceMapping struct {
	Kind          string         `yaml:"kind"` // "ethereum/events"
	Entities      []string       `yaml:"entities"`
	EventHandlers []EventHandler `yaml:"eventHandlers"`
}

// EventHandler binds an event signature to a handler name
type EventHandler struct {
	Event   string `yaml:"event"`   // canonical signature, e.g. "Complete(address,address)"
	Handler string `yaml:"handler"` // handler function name
}

// ParseManifest parses and validates a YAML manifest
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
	}

	for i := range manifest.DataSources {
		ds := &manifest.DataSources[i]
		if ds.Kind == "" {
			ds.Kind = "ethereum/contract"
		}
		if ds.Mapping.Kind == "" {
			ds.Mapping.Kind = "ethereum/events"
		}
	}

	if err := manifest.ValidateManifest(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &manifest, nil
}

// ValidateManifest validates a manifest structure
func (m *Manifest) ValidateManifest() error {
	if m.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if m.Version == "" {
		return ErrInvalidManifest{Field: "version", Reason: "version is required"}
	}

	if len(m.DataSources) == 0 {
		return ErrInvalidManifest{Field: "dataSources", Reason: "at least one data source is required"}
	}

	for i, ds := range m.DataSources {
		if err := ds.validate(); err != nil {
			return ErrInvalidManifest{Field: "dataSources[" + strconv.Itoa(i) + "]", Reason: err.Error()}
		}
	}

	return nil
}

func (ds *DataSource) validate() error {
	if ds.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if ds.Source.ABI == "" {
		return ErrInvalidManifest{Field: "source.abi", Reason: "ABI is required"}
	}

	if len(ds.Mapping.EventHandlers) == 0 {
		return ErrInvalidManifest{Field: "mapping.eventHandlers", Reason: "at least one event handler is required"}
	}

	return nil
}

// BindABI checks that the manifest's event handlers and the contract ABI
// describe exactly the same events with the same argument layout, and that
// every handler name is known. It returns the ABI event for each handler name.
func (m *Manifest) BindABI(contractABI *abi.ABI, knownHandlers map[string]bool) (map[string]abi.Event, error) {
	bySig := make(map[string]abi.Event, len(contractABI.Events))
	for _, ev := range contractABI.Events {
		bySig[ev.Sig] = ev
	}

	bound := make(map[string]abi.Event)
	for _, ds := range m.DataSources {
		for _, h := range ds.Mapping.EventHandlers {
			ev, ok := bySig[h.Event]
			if !ok {
				return nil, ErrInvalidManifest{Field: "eventHandlers." + h.Handler, Reason: "event " + h.Event + " not in ABI " + ds.Source.ABI}
			}
			if !knownHandlers[h.Handler] {
				return nil, ErrInvalidManifest{Field: "eventHandlers." + h.Handler, Reason: "no such handler"}
			}
			bound[h.Handler] = ev
		}
	}

	for sig := range bySig {
		found := false
		for _, ev := range bound {
			if ev.Sig == sig {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrInvalidManifest{Field: "eventHandlers", Reason: "ABI event " + sig + " has no handler"}
		}
	}

	return bound, nil
}

// ErrInvalidManifest is returned when a manifest is invalid
type ErrInvalidManifest struct {
	Field  string
	Reason string
}

func (e ErrInvalidManifest) Error() string {
	return "invalid manifest field " + e.Field + ": " + e.Reason
}
