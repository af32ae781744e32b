package errors

// Predicates for the error taxonomy. Each one walks the Unwrap chain, so a
// wrapped error still matches its original kind.

func IsTransport(err error) bool { return HasCode(err, CodeTransportError) }
func IsClosedTransport(err error) bool { return HasCode(err, CodeTransportClosed) }
func IsHandshake(err error) bool { return HasCode(err, CodeHandshakeFailed) }
func IsUnknownTool(err error) bool { return HasCode(err, CodeUnknownTool) }
func IsRequestTimeout(err error) bool { return HasCode(err, CodeRequestTimeout) }
func IsSessionClosed(err error) bool { return HasCode(err, CodeSessionClosed) }
func IsInvalidConfig(err error) bool { return HasCode(err, CodeInvalidConfig) }
func IsServerNotConnected(err error) bool { return HasCode(err, CodeServerNotConnected) }
func IsServerNotFound(err error) bool { return HasCode(err, CodeServerNotFound) }
func IsCancelled(err error) bool { return HasCode(err, CodeOperationCancelled) }
func IsInvalidParams(err error) bool { return HasCode(err, CodeInvalidParams) }
func IsRegistryClosed(err error) bool { return HasCode(err, CodeRegistryClosed) }
