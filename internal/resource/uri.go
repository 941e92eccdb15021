package resource

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// SchemaKind is the only resource kind served.
const SchemaKind = "schema"

// ErrInvalidResourceURI matches any URI that does not name a table schema.
var ErrInvalidResourceURI = errors.New("invalid resource URI")

// InvalidURIError carries the offending URI. Its message is the one clients
// see in the resource error envelope.
type InvalidURIError struct {
	URI string
}

func (e *InvalidURIError) Error() string {
	return "Invalid resource URI: " + e.URI
}

func (e *InvalidURIError) Is(target error) bool {
	return target == ErrInvalidResourceURI
}

// BaseURL derives the resource base from the database URL. The scheme is
// forced to postgres and the password, query and fragment are dropped.
func BaseURL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return "", fmt.Errorf("database url scheme %q is not postgres", u.Scheme)
	}

	u.Scheme = "postgres"
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			u.User = url.User(name)
		} else {
			u.User = nil
		}
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return strings.TrimRight(u.String(), "/"), nil
}

// Encode names the schema resource of table under base.
func Encode(base, table string) string {
	return base + "/" + table + "/" + SchemaKind
}

// Decode splits a resource URI into its table and kind. Only the last two
// path segments are inspected, so table names containing "/" cannot be
// round-tripped.
func Decode(uri string) (table, kind string, err error) {
	parts := strings.Split(uri, "/")
	if len(parts) < 2 {
		return "", "", &InvalidURIError{URI: uri}
	}
	kind = parts[len(parts)-1]
	table = parts[len(parts)-2]
	if table == "" {
		return "", "", &InvalidURIError{URI: uri}
	}
	return table, kind, nil
}
