package opid

import (
	"encoding/json"
	"sort"
)

// PluginCapabilities manages a collection of capabilities with searching, matching, and querying functionality
type PluginCapabilities struct {
	// Capabilities is the array of capabilities
	Capabilities []*Operation `json:"capabilities"`
}

// NewPluginCapabilities creates a new empty capabilities collection
func NewPluginCapabilities() *PluginCapabilities {
	return &PluginCapabilities{
		Capabilities: make([]*Operation, 0),
	}
}

// NewPluginCapabilitiesWithArray creates capabilities collection with an array of capabilities
func NewPluginCapabilitiesWithArray(capabilities []*Operation) *PluginCapabilities {
	caps := make([]*Operation, len(capabilities))
	copy(caps, capabilities)
	return &PluginCapabilities{
		Capabilities: caps,
	}
}

// AddOperation adds a operation to the collection
func (pc *PluginCapabilities) AddOperation(operation *Operation) {
	if operation != nil {
		pc.Capabilities = append(pc.Capabilities, operation)
	}
}

// RemoveOperation removes a operation from the collection
func (pc *PluginCapabilities) RemoveOperation(operation *Operation) bool {
	for i, cap := range pc.Capabilities {
		if cap.Equals(operation) {
			pc.Capabilities = append(pc.Capabilities[:i], pc.Capabilities[i+1:]...)
			return true
		}
	}
	return false
}

// CanHandleOperation checks if the plugin has a specific operation
func (pc *PluginCapabilities) CanHandleOperation(operationRequest string) bool {
	for _, operation := range pc.Capabilities {
		if operation.MatchesRequest(operationRequest) {
			return true
		}
	}
	return false
}

// OperationKeys gets all operation identifiers as strings
func (pc *PluginCapabilities) OperationKeys() []string {
	identifiers := make([]string, len(pc.Capabilities))
	for i, operation := range pc.Capabilities {
		identifiers[i] = operation.IdString()
	}
	return identifiers
}

// FindOperationWithIdentifier finds a operation by identifier
func (pc *PluginCapabilities) FindOperationWithIdentifier(identifier string) *Operation {
	searchId, err := NewOperationKeyFromString(identifier)
	if err != nil {
		return nil
	}

	for _, operation := range pc.Capabilities {
		if operation.Id.Equals(searchId) {
			return operation
		}
	}
	return nil
}

// FindBestOperationForRequest finds the most specific operation that can handle a request
func (pc *PluginCapabilities) FindBestOperationForRequest(request string) *Operation {
	requestId, err := NewOperationKeyFromString(request)
	if err != nil {
		return nil
	}

	operationKeys := make([]*OperationKey, len(pc.Capabilities))
	for i, operation := range pc.Capabilities {
		operationKeys[i] = operation.Id
	}

	bestId := FindBestMatchStatic(operationKeys, requestId)
	if bestId == nil {
		return nil
	}

	for _, operation := range pc.Capabilities {
		if operation.Id.Equals(bestId) {
			return operation
		}
	}
	return nil
}

// CapabilitiesWithMetadata gets capabilities that have specific metadata
func (pc *PluginCapabilities) CapabilitiesWithMetadata(key string, value *string) []*Operation {
	var matches []*Operation

	for _, operation := range pc.Capabilities {
		if value != nil {
			if metadataValue, exists := operation.GetMetadata(key); exists && metadataValue == *value {
				matches = append(matches, operation)
			}
		} else {
			if operation.HasMetadata(key) {
				matches = append(matches, operation)
			}
		}
	}

	return matches
}

// AllMetadataKeys gets all unique metadata keys across all capabilities
func (pc *PluginCapabilities) AllMetadataKeys() []string {
	keySet := make(map[string]struct{})

	for _, operation := range pc.Capabilities {
		for key := range operation.Metadata {
			keySet[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}

// CapabilitiesWithVersion gets capabilities by version
func (pc *PluginCapabilities) CapabilitiesWithVersion(version string) []*Operation {
	var matches []*Operation

	for _, operation := range pc.Capabilities {
		if operation.Version == version {
			matches = append(matches, operation)
		}
	}

	return matches
}

// Count gets the count of capabilities
func (pc *PluginCapabilities) Count() int {
	return len(pc.Capabilities)
}

// IsEmpty checks if the collection is empty
func (pc *PluginCapabilities) IsEmpty() bool {
	return len(pc.Capabilities) == 0
}

// Equals checks if this capabilities collection is equal to another
func (pc *PluginCapabilities) Equals(other *PluginCapabilities) bool {
	if other == nil {
		return false
	}

	if len(pc.Capabilities) != len(other.Capabilities) {
		return false
	}

	for i, operation := range pc.Capabilities {
		if !operation.Equals(other.Capabilities[i]) {
			return false
		}
	}

	return true
}

// Clone creates a deep copy of the capabilities collection
func (pc *PluginCapabilities) Clone() *PluginCapabilities {
	return NewPluginCapabilitiesWithArray(pc.Capabilities)
}

// MarshalJSON implements custom JSON marshaling
func (pc *PluginCapabilities) MarshalJSON() ([]byte, error) {
	type PluginCapabilitiesAlias PluginCapabilities
	return json.Marshal((*PluginCapabilitiesAlias)(pc))
}

// UnmarshalJSON implements custom JSON unmarshaling
func (pc *PluginCapabilities) UnmarshalJSON(data []byte) error {
	type PluginCapabilitiesAlias PluginCapabilities
	aux := (*PluginCapabilitiesAlias)(pc)
	return json.Unmarshal(data, aux)
}