package storage

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// ErrUnknownSchema is returned by LookupSchema for unregistered names.
var ErrUnknownSchema = errors.New("storage: unknown schema")

// Schema names the tables that back one deployment. Column names are the
// same in every schema; only the table names differ.
type Schema struct {
	Name         string
	Messages     string
	Log          string
	Suppressions string
}

var (
	// DefaultSchema is the layout created by migrations/001.
	DefaultSchema = Schema{
		Name:         "default",
		Messages:     "mail_messages",
		Log:          "mail_log",
		Suppressions: "mail_suppressions",
	}

	// MailerSchema uses the table names of an existing django-mailer
	// database, created by migrations/002.
	MailerSchema = Schema{
		Name:         "mailer",
		Messages:     "mailer_message",
		Log:          "mailer_messagelog",
		Suppressions: "mailer_dontsendentry",
	}
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var (
	schemasMu sync.RWMutex
	schemas   = map[string]Schema{
		DefaultSchema.Name: DefaultSchema,
		MailerSchema.Name:  MailerSchema,
	}
)

// RegisterSchema makes s available to LookupSchema. Table names are spliced
// into SQL, so they must be plain identifiers, optionally schema-qualified.
func RegisterSchema(s Schema) error {
	if s.Name == "" {
		return errors.New("register schema: name is required")
	}
	for _, table := range []string{s.Messages, s.Log, s.Suppressions} {
		if !identifierPattern.MatchString(table) {
			return fmt.Errorf("register schema %s: invalid table name %q", s.Name, table)
		}
	}

	schemasMu.Lock()
	defer schemasMu.Unlock()
	schemas[s.Name] = s
	return nil
}

// LookupSchema resolves a registered schema. An empty name is the default.
func LookupSchema(name string) (Schema, error) {
	if name == "" {
		return DefaultSchema, nil
	}

	schemasMu.RLock()
	defer schemasMu.RUnlock()
	s, ok := schemas[name]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return s, nil
}

// SchemaNames lists the registered schema names in sorted order.
func SchemaNames() []string {
	schemasMu.RLock()
	defer schemasMu.RUnlock()
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
