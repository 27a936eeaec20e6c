package internal

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/message"
)

type MissingServerErrorError struct {
	Id uint16
}

func (e *MissingServerErrorError) Error() string {
	return fmt.Sprintf("No description for server error id=%d", e.Id)
}

// ServerVersions is what the server reported in its hello reply.
type ServerVersions struct {
	Version       string
	ScriptVersion string
	ProtocolMD5   string
	EntityDefMD5  string
}

type ServerErrorDescr struct {
	Id    uint16
	Name  string
	Descr string
}

// NegotiationStore caches what the handshake learned about the cluster, so
// later logins in the same process can skip importing it again. It may be
// shared by several clients.
type NegotiationStore struct {
	mut_tables sync.RWMutex
	tables     map[string][]message.Descriptor

	mut_versions sync.RWMutex
	versions     map[string]ServerVersions

	mut_serverErrors sync.RWMutex
	serverErrors     map[uint16]ServerErrorDescr
}

func CreateNegotiationStore() *NegotiationStore {
	return &NegotiationStore{
		mut_tables:       sync.RWMutex{},
		tables:           make(map[string][]message.Descriptor),
		mut_versions:     sync.RWMutex{},
		versions:         make(map[string]ServerVersions),
		mut_serverErrors: sync.RWMutex{},
		serverErrors:     make(map[uint16]ServerErrorDescr),
	}
}

// SetMessageTable keeps the descriptor table imported from server. Handlers
// are not kept, each client binds its own.
func (store *NegotiationStore) SetMessageTable(server string, descs []message.Descriptor) {
	table := make([]message.Descriptor, len(descs))
	for i, desc := range descs {
		desc.Args = slices.Clone(desc.Args)
		desc.Handler = nil
		table[i] = desc
	}

	store.mut_tables.Lock()
	defer store.mut_tables.Unlock()
	store.tables[server] = table
}

// MessageTable returns a copy of the table imported from server.
func (store *NegotiationStore) MessageTable(server string) ([]message.Descriptor, bool) {
	store.mut_tables.RLock()
	defer store.mut_tables.RUnlock()

	table, has := store.tables[server]
	if !has {
		return nil, false
	}
	return slices.Clone(table), true
}

func (store *NegotiationStore) IsImported(server string) bool {
	store.mut_tables.RLock()
	defer store.mut_tables.RUnlock()
	_, has := store.tables[server]
	return has
}

func (store *NegotiationStore) SetServerVersions(server string, versions ServerVersions) {
	store.mut_versions.Lock()
	defer store.mut_versions.Unlock()
	store.versions[server] = versions
}

func (store *NegotiationStore) GetServerVersions(server string) (ServerVersions, bool) {
	store.mut_versions.RLock()
	defer store.mut_versions.RUnlock()
	v, has := store.versions[server]
	return v, has
}

// HasServerErrors reports whether the error table was already fetched.
func (store *NegotiationStore) HasServerErrors() bool {
	store.mut_serverErrors.RLock()
	defer store.mut_serverErrors.RUnlock()
	return len(store.serverErrors) > 0
}

func (store *NegotiationStore) SetServerError(descr ServerErrorDescr) {
	store.mut_serverErrors.Lock()
	defer store.mut_serverErrors.Unlock()
	store.serverErrors[descr.Id] = descr
}

func (store *NegotiationStore) GetServerError(id uint16) (ServerErrorDescr, error) {
	store.mut_serverErrors.RLock()
	defer store.mut_serverErrors.RUnlock()

	descr, has := store.serverErrors[id]
	if !has {
		return ServerErrorDescr{}, &MissingServerErrorError{Id: id}
	}
	return descr, nil
}

// ServerErrorName returns the symbolic name of id, or an empty string.
func (store *NegotiationStore) ServerErrorName(id uint16) string {
	descr, err := store.GetServerError(id)
	if err != nil {
		return ""
	}
	return descr.Name
}

// Reset forgets everything, e.g. after the server was upgraded.
func (store *NegotiationStore) Reset() {
	store.mut_tables.Lock()
	clear(store.tables)
	store.mut_tables.Unlock()

	store.mut_versions.Lock()
	clear(store.versions)
	store.mut_versions.Unlock()

	store.mut_serverErrors.Lock()
	clear(store.serverErrors)
	store.mut_serverErrors.Unlock()
}
