package admission

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/beamline/gateway/internal/validation"
)

// registryCapacity bounds the number of (type, version) manifests held in
// memory, per spec.md §4.2 ("bounded mapping").
const registryCapacity = 4096

// BlockManifest is one stored registry entry.
type BlockManifest struct {
	Type    string          `json:"type"`
	Version string          `json:"version"`
	Schema  BlockSchemaPair `json:"schema"`
}

// BlockSchemaPair is the manifest's `schema.input`/`schema.output` pair,
// each validated as a Draft-07 subset document before storage.
type BlockSchemaPair struct {
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
}

// Registry is the in-process, bounded (type, version) -> manifest store of
// spec.md §4.2.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]BlockManifest
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]BlockManifest)}
}

func registryKey(typ, version string) string {
	return typ + "@" + version
}

// ValidationError is returned by Put when a schema fails validation; the
// HTTP layer maps it to 400 invalid_schema.
type ValidationError struct {
	Errors []validation.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registry: %d schema validation error(s)", len(e.Errors))
}

// MismatchError is returned by Put when the manifest body's (type, version)
// disagrees with the path; the HTTP layer maps it to 409 conflict.
type MismatchError struct {
	PathType, PathVersion string
	BodyType, BodyVersion string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("registry: path (%s, %s) does not match body (%s, %s)",
		e.PathType, e.PathVersion, e.BodyType, e.BodyVersion)
}

// CapacityError is returned by Put when the registry is full and the key is
// new.
type CapacityError struct{}

func (e *CapacityError) Error() string { return "registry: at capacity" }

// Put validates manifest's schema pair and stores it under (type, version),
// enforcing that manifest.Type/Version (when set) agree with the path.
func (r *Registry) Put(typ, version string, manifest BlockManifest) error {
	if manifest.Type != "" && manifest.Type != typ {
		return &MismatchError{typ, version, manifest.Type, manifest.Version}
	}
	if manifest.Version != "" && manifest.Version != version {
		return &MismatchError{typ, version, manifest.Type, manifest.Version}
	}
	manifest.Type = typ
	manifest.Version = version

	if errs := validateSchemaDoc(manifest.Schema.Input); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	if errs := validateSchemaDoc(manifest.Schema.Output); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	key := registryKey(typ, version)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; !exists && len(r.entries) >= registryCapacity {
		return &CapacityError{}
	}
	r.entries[key] = manifest
	return nil
}

// validateSchemaDoc checks doc by building a validation.Validator from it,
// which only requires its definitions/$defs blocks (when present) to be
// objects of objects. Other keywords are not checked here, and $ref targets
// are only resolved later, when an instance is validated.
func validateSchemaDoc(doc map[string]any) []validation.Error {
	if doc == nil {
		return nil
	}
	if _, err := validation.New(doc); err != nil {
		return []validation.Error{{Path: "$", Message: err.Error()}}
	}
	return nil
}

// Get looks up the manifest stored at (type, version).
func (r *Registry) Get(typ, version string) (BlockManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[registryKey(typ, version)]
	return m, ok
}

// Delete removes the manifest at (type, version), reporting whether it
// existed.
func (r *Registry) Delete(typ, version string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(typ, version)
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// ValidateInstance validates instance against the stored (type, version)
// manifest's input schema, used to exercise the registry validator beyond
// storage-time checks (e.g. by a future decide-time enforcement point).
func (r *Registry) ValidateInstance(typ, version string, instance any) (*validation.Report, bool) {
	r.mu.RLock()
	m, ok := r.entries[registryKey(typ, version)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v, err := validation.New(m.Schema.Input)
	if err != nil {
		return &validation.Report{Errors: []validation.Error{{Path: "$", Message: err.Error()}}}, true
	}
	return v.Validate(instance), true
}

// MarshalManifest renders m as the JSON body the HTTP layer returns.
func MarshalManifest(m BlockManifest) ([]byte, error) {
	return json.Marshal(m)
}
