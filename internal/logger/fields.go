package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across subsystems so log lines can be aggregated and queried by field.
const (
	// Transfers
	KeyTransferID = "transfer_id" // opaque transfer identifier
	KeyDirection  = "direction"   // Download or Upload
	KeyFilename   = "filename"    // remote filename
	KeyGroup      = "group"       // upload group name
	KeySize       = "size"        // total size in bytes
	KeyBytes      = "bytes"       // bytes granted/transferred

	// Searches
	KeySearchID = "search_id" // search UUID
	KeyQuery    = "query"     // search text
	KeyToken    = "token"     // peer protocol token

	// Server connection
	KeyUsername = "username" // remote or session username
	KeyAddress  = "address"  // server address
	KeyAttempt  = "attempt"  // reconnect attempt number
	KeyDelay    = "delay"    // backoff delay

	// Shared
	KeyError      = "error"       // error message
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
)

// TransferID returns a slog.Attr for an opaque transfer identifier.
func TransferID(id string) slog.Attr {
	return slog.String(KeyTransferID, id)
}

// Direction returns a slog.Attr for a transfer direction.
func Direction(d string) slog.Attr {
	return slog.String(KeyDirection, d)
}

// Filename returns a slog.Attr for a remote filename.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Group returns a slog.Attr for an upload group name.
func Group(name string) slog.Attr {
	return slog.String(KeyGroup, name)
}

// SearchID returns a slog.Attr for a search identifier.
func SearchID(id string) slog.Attr {
	return slog.String(KeySearchID, id)
}

// Username returns a slog.Attr for a username.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
