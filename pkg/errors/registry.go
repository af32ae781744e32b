package errors

import "fmt"

// InvalidConfigError reports a ServerConfig that failed validation.
func InvalidConfigError(id, field, reason string) MCPError {
	message := fmt.Sprintf("invalid server config: %s %s", field, reason)
	if id != "" {
		message = fmt.Sprintf("invalid server config %q: %s %s", id, field, reason)
	}
	return NewError(
		CodeInvalidConfig,
		message,
		CategoryValidation,
		SeverityError,
	).WithData(map[string]interface{}{
		"field":  field,
		"reason": reason,
	}).WithContext(&Context{Component: "config", ServerID: id})
}

// ServerNotConnectedError reports an invocation against a server that is not
// in the connected state. Nothing is queued.
func ServerNotConnectedError(id, status string) MCPError {
	return NewError(
		CodeServerNotConnected,
		fmt.Sprintf("server %q is not connected (status %s)", id, status),
		CategoryState,
		SeverityWarning,
	).WithData(map[string]interface{}{
		"status": status,
	}).WithContext(&Context{Component: "registry", ServerID: id})
}

// ServerNotFound reports an operation naming an unregistered server id.
func ServerNotFound(id string) MCPError {
	return NewError(
		CodeServerNotFound,
		fmt.Sprintf("server %q not found", id),
		CategoryNotFound,
		SeverityError,
	).WithContext(&Context{Component: "registry", ServerID: id})
}

// RegistryClosed reports an operation on a registry after Close.
func RegistryClosed() MCPError {
	return NewError(
		CodeRegistryClosed,
		"registry is closed",
		CategoryState,
		SeverityWarning,
	).WithContext(&Context{Component: "registry"})
}

// StoreError reports a config store that failed to load or save.
func StoreError(store, operation string, cause error) MCPError {
	return WrapError(
		cause,
		CodeStoreError,
		fmt.Sprintf("%s store %s failed", store, operation),
		CategoryInternal,
		SeverityError,
	).WithContext(&Context{Component: store + "-store", Operation: operation})
}
