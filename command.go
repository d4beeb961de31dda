package imap

// Command names understood by the server.
const (
	CommandCapability = "CAPABILITY"
	CommandNoop       = "NOOP"
	CommandLogout     = "LOGOUT"

	CommandStartTLS     = "STARTTLS"
	CommandAuthenticate = "AUTHENTICATE"
	CommandLogin        = "LOGIN"

	CommandSelect      = "SELECT"
	CommandExamine     = "EXAMINE"
	CommandCreate      = "CREATE"
	CommandDelete      = "DELETE"
	CommandRename      = "RENAME"
	CommandList        = "LIST"
	CommandStatus      = "STATUS"
	CommandAppend      = "APPEND"
	CommandSetMetadata = "SETMETADATA"
	CommandGetMetadata = "GETMETADATA"

	CommandCheck    = "CHECK"
	CommandClose    = "CLOSE"
	CommandUnselect = "UNSELECT"
	CommandExpunge  = "EXPUNGE"
	CommandFetch    = "FETCH"
	CommandStore    = "STORE"
	CommandCopy     = "COPY"
	CommandUID      = "UID"
)
