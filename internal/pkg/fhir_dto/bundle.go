package fhir_dto

import (
	"fmt"
	"strings"

	"ipms-mediator/internal/pkg/constvars"

	"github.com/goccy/go-json"
)

type FHIRBundle struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id,omitempty"`
	Type         string  `json:"type,omitempty"`
	Timestamp    string  `json:"timestamp,omitempty"`
	Total        int     `json:"total,omitempty"`
	Entry        []Entry `json:"entry"`
}

type Entry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
	Request  *EntryRequest   `json:"request,omitempty"`
	Search   *EntrySearch    `json:"search,omitempty"`
}

type EntryRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type EntrySearch struct {
	Mode string `json:"mode,omitempty"`
}

// ResourceHeader is the part shared by every FHIR resource.
type ResourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
}

// Header decodes the resource type and id of the entry. A malformed resource
// yields an empty header.
func (e Entry) Header() ResourceHeader {
	var header ResourceHeader
	if len(e.Resource) == 0 {
		return header
	}
	_ = json.Unmarshal(e.Resource, &header)
	return header
}

// Clone returns a deep copy so steps can hand back a new bundle without
// aliasing the caller's resources.
func (b *FHIRBundle) Clone() *FHIRBundle {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Entry = make([]Entry, len(b.Entry))
	for i, entry := range b.Entry {
		copied := entry
		copied.Resource = append(json.RawMessage(nil), entry.Resource...)
		if entry.Request != nil {
			request := *entry.Request
			copied.Request = &request
		}
		if entry.Search != nil {
			search := *entry.Search
			copied.Search = &search
		}
		clone.Entry[i] = copied
	}
	return &clone
}

// IndexesOf returns the positions of every entry of resourceType.
func (b *FHIRBundle) IndexesOf(resourceType string) []int {
	var indexes []int
	for i, entry := range b.Entry {
		if entry.Header().ResourceType == resourceType {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// IndexOf finds the entry addressed by resourceType and id.
func (b *FHIRBundle) IndexOf(resourceType, id string) (int, bool) {
	for i, entry := range b.Entry {
		header := entry.Header()
		if header.ResourceType == resourceType && header.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (b *FHIRBundle) DecodeEntry(index int, v interface{}) error {
	if index < 0 || index >= len(b.Entry) {
		return fmt.Errorf("entry index %d out of range", index)
	}
	return json.Unmarshal(b.Entry[index].Resource, v)
}

// PatchEntry overwrites top-level fields of the resource at index. Fields that
// are not named stay byte-for-byte as they were, so elements unknown to this
// package survive the round trip. A nil value removes the field.
func (b *FHIRBundle) PatchEntry(index int, fields map[string]interface{}) error {
	if index < 0 || index >= len(b.Entry) {
		return fmt.Errorf("entry index %d out of range", index)
	}

	var resource map[string]json.RawMessage
	if err := json.Unmarshal(b.Entry[index].Resource, &resource); err != nil {
		return err
	}
	for key, value := range fields {
		if value == nil {
			delete(resource, key)
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		resource[key] = raw
	}

	patched, err := json.Marshal(resource)
	if err != nil {
		return err
	}
	b.Entry[index].Resource = patched
	return nil
}

// AppendResource adds resource as a PUT entry so the transaction is idempotent
// when the bundle is saved more than once.
func (b *FHIRBundle) AppendResource(resourceType, id string, resource interface{}) error {
	raw, err := json.Marshal(resource)
	if err != nil {
		return err
	}
	b.Entry = append(b.Entry, Entry{
		FullURL:  ReferenceTo(resourceType, id),
		Resource: raw,
		Request: &EntryRequest{
			Method: "PUT",
			URL:    ReferenceTo(resourceType, id),
		},
	})
	return nil
}

func ReferenceTo(resourceType, id string) string {
	return resourceType + "/" + id
}

// SplitReference parses "Type/id", also accepting absolute URLs and
// "urn:uuid:" references which yield an empty type.
func SplitReference(reference string) (resourceType, id string) {
	if strings.HasPrefix(reference, "urn:uuid:") {
		return "", strings.TrimPrefix(reference, "urn:uuid:")
	}
	parts := strings.Split(strings.TrimSuffix(reference, "/"), "/")
	if len(parts) < 2 {
		return "", reference
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// ToTransaction turns b into a transaction bundle. Entries without a request
// are written with PUT when they carry an id and POST otherwise.
func (b *FHIRBundle) ToTransaction() *FHIRBundle {
	transaction := b.Clone()
	transaction.Type = constvars.FhirBundleTypeTransaction
	transaction.Total = 0
	for i, entry := range transaction.Entry {
		transaction.Entry[i].Search = nil
		if entry.Request != nil {
			continue
		}
		header := entry.Header()
		if header.ResourceType == "" {
			continue
		}
		if header.ID == "" {
			transaction.Entry[i].Request = &EntryRequest{Method: "POST", URL: header.ResourceType}
			continue
		}
		transaction.Entry[i].Request = &EntryRequest{Method: "PUT", URL: ReferenceTo(header.ResourceType, header.ID)}
	}
	return transaction
}
