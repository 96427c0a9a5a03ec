package fiberserver

import "time"

const (
	defaultHTTPPort        = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultBodyLimit       = 4 * 1024 * 1024 // 4MB
)

var defaultSettings = settings{
	port:         defaultHTTPPort,
	readTimeout:  defaultReadTimeout,
	writeTimeout: defaultWriteTimeout,
	idleTimeout:  defaultIdleTimeout,
	bodyLimit:    defaultBodyLimit,
}

type (
	Option   func(s settings) settings
	settings struct {
		port              string
		readTimeout       time.Duration
		writeTimeout      time.Duration
		idleTimeout       time.Duration
		bodyLimit         int
		routes            []Route
		globalMiddlewares []Middleware
	}
)

// WithPort sets the server port.
// Default: "8080"
func WithPort(port string) Option {
	return func(s settings) settings {
		s.port = port
		return s
	}
}

// WithRoutes adds routes to the server.
// Routes must be added before calling Run().
func WithRoutes(routes ...Route) Option {
	return func(s settings) settings {
		s.routes = append(s.routes, routes...)
		return s
	}
}

// WithMiddlewares adds global middlewares that apply to all routes.
// Middlewares are executed in the order they are added.
func WithMiddlewares(middlewares ...Middleware) Option {
	return func(s settings) settings {
		s.globalMiddlewares = append(s.globalMiddlewares, middlewares...)
		return s
	}
}
