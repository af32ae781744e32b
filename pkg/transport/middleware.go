package transport

// Middleware wraps a transport to add behavior such as instrumentation.
type Middleware func(Transport) Transport

// Chain applies middleware so the first one is the outermost wrapper.
func Chain(t Transport, middleware ...Middleware) Transport {
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] != nil {
			t = middleware[i](t)
		}
	}
	return t
}
