package feedsession

// ErrorKind tags the ERROR{kind} notices sent to clients.
type ErrorKind string

const (
	ErrCatalogUnavailable ErrorKind = "CatalogUnavailable"
	ErrSwitchTimeout      ErrorKind = "SwitchTimeout"
	ErrExpiryChanged      ErrorKind = "ExpiryChanged"
	ErrUnknownAction      ErrorKind = "UnknownAction"
	ErrBrokerTokenInvalid ErrorKind = "Broker Token Invalid"
)
