package imap

// StoreAction specifies how flags should be modified.
type StoreAction int

const (
	// StoreFlagsSet replaces existing flags.
	StoreFlagsSet StoreAction = iota
	// StoreFlagsAdd adds to existing flags.
	StoreFlagsAdd
	// StoreFlagsDel removes from existing flags.
	StoreFlagsDel
)

// String returns the IMAP representation of the store action.
func (a StoreAction) String() string {
	switch a {
	case StoreFlagsAdd:
		return "+FLAGS"
	case StoreFlagsDel:
		return "-FLAGS"
	default:
		return "FLAGS"
	}
}

// StoreFlags specifies the flag changes for a STORE command.
type StoreFlags struct {
	Action StoreAction
	// Silent suppresses the FETCH responses for the changed messages.
	Silent bool
	Flags  []Flag
}
