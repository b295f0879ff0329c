// Package directory resolves which identities a user may chat with. Room
// membership is derived from the platform's project assignments: a client
// talks to the companies building for them, a company talks to its clients
// and staff. The chat server queries the platform API for this mapping and
// never stores it.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/buildersync/chat-core/internal/identity"
)

// ErrUnavailable indicates the directory service could not answer.
var ErrUnavailable = errors.New("directory: unavailable")

// Directory lists the chat contacts of an identity.
type Directory interface {
	Contacts(ctx context.Context, ident identity.Identity) ([]identity.Identity, error)
}

// HTTPDirectory queries the platform API for contact lists.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a directory client for the given base URL,
// e.g. "http://platform-api:3000".
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// contactsResponse is the platform API payload: identities as "role:id".
type contactsResponse struct {
	Contacts []string `json:"contacts"`
}

// Contacts fetches the contact list for ident from
// GET {base}/api/chat/contacts?role=...&id=... Entries that fail to parse
// are skipped; the platform occasionally returns deactivated accounts.
func (d *HTTPDirectory) Contacts(ctx context.Context, ident identity.Identity) ([]identity.Identity, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("role", string(ident.Role))
	q.Set("id", ident.ID)
	reqURL := d.baseURL + "/api/chat/contacts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload contactsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	contacts := make([]identity.Identity, 0, len(payload.Contacts))
	for _, raw := range payload.Contacts {
		contact, err := identity.Parse(raw)
		if err != nil {
			continue
		}
		if contact == ident {
			continue
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// Static is a fixed in-memory directory for tests and single-node
// development.
type Static struct {
	contacts map[identity.Identity][]identity.Identity
}

// NewStatic creates a Static directory from an explicit contact map.
func NewStatic(contacts map[identity.Identity][]identity.Identity) *Static {
	return &Static{contacts: contacts}
}

// Contacts returns the configured contact list, or an empty list for unknown
// identities.
func (s *Static) Contacts(_ context.Context, ident identity.Identity) ([]identity.Identity, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return append([]identity.Identity(nil), s.contacts[ident]...), nil
}
