package fiberserver

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
)

type (
	// Server defines the HTTP server interface the interceptor example
	// runs its routes and middleware chain through.
	Server interface {
		// Run starts the server and returns a shutdown function.
		// The shutdown function should be called for graceful shutdown.
		Run() Shutdown
		// ShutdownListener returns a channel that receives the server's
		// termination error (or nil if shutdown was clean).
		ShutdownListener() chan error
		// App returns the underlying Fiber app, for driving requests
		// straight through the registered route table in tests.
		App() *fiber.App
	}

	server struct {
		app              *fiber.App
		port             string
		shutdownListener chan error
	}

	// Shutdown is a function that gracefully shuts down the server.
	Shutdown func(ctx context.Context) error
	// Middleware is a Fiber middleware handler.
	Middleware func(c *fiber.Ctx) error
	// Handler is a function that handles HTTP requests and may return an error.
	// Errors returned propagate up through the middleware chain -- including
	// any FlowTrace middleware wrapping the route -- to the app's ErrorHandler.
	Handler func(c *fiber.Ctx) error

	// Route defines an HTTP route with its handler and middlewares.
	Route struct {
		Path        string
		Method      string
		Handler     Handler
		Middlewares []Middleware
	}
)

// New creates a new HTTP server with the given options.
// Default configuration:
//   - Port: 8080
//   - ReadTimeout: 15s
//   - WriteTimeout: 15s
//   - IdleTimeout: 60s
//   - BodyLimit: 4MB
func New(options ...Option) Server {
	settings := defaultSettings
	for _, option := range options {
		settings = option(settings)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           settings.readTimeout,
		WriteTimeout:          settings.writeTimeout,
		IdleTimeout:           settings.idleTimeout,
		BodyLimit:             settings.bodyLimit,
		DisableStartupMessage: true,
		EnablePrintRoutes:     false,
		DisableDefaultDate:    true,
		ErrorHandler: defaultHandleError,
	})

	srv := &server{
		app:              app,
		port:             settings.port,
		shutdownListener: make(chan error, 1),
	}

	for _, middleware := range settings.globalMiddlewares {
		app.Use(fiber.Handler(middleware))
	}

	for _, route := range settings.routes {
		srv.registerRoute(route)
	}

	return srv
}

// ShutdownListener returns a channel that receives server termination errors.
func (s *server) ShutdownListener() chan error {
	return s.shutdownListener
}

// App returns the underlying Fiber app for testing purposes.
func (s *server) App() *fiber.App {
	return s.app
}

// Run starts the HTTP server in a goroutine and returns a shutdown function.
// The server listens on the configured port and handles incoming requests.
// Use the returned Shutdown function to gracefully stop the server.
func (s *server) Run() Shutdown {
	go func() {
		addr := fmt.Sprintf(":%s", s.port)
		err := s.app.Listen(addr)
		if err == nil {
			s.shutdownListener <- nil
			return
		}
		s.shutdownListener <- err
	}()

	return func(ctx context.Context) error {
		return s.app.ShutdownWithContext(ctx)
	}
}

// NewRoute creates a new Route with the given parameters.
func NewRoute(method, path string, handler Handler, middlewares ...Middleware) Route {
	return Route{
		Path:        path,
		Method:      method,
		Handler:     handler,
		Middlewares: middlewares,
	}
}

// registerRoute registers a route to the Fiber app.
func (s *server) registerRoute(route Route) {
	handlers := make([]fiber.Handler, 0, len(route.Middlewares)+1)

	for _, middleware := range route.Middlewares {
		handlers = append(handlers, fiber.Handler(middleware))
	}
	handlers = append(handlers, fiber.Handler(route.Handler))

	switch route.Method {
	case fiber.MethodGet:
		s.app.Get(route.Path, handlers...)
	case fiber.MethodPost:
		s.app.Post(route.Path, handlers...)
	case fiber.MethodPut:
		s.app.Put(route.Path, handlers...)
	case fiber.MethodDelete:
		s.app.Delete(route.Path, handlers...)
	case fiber.MethodPatch:
		s.app.Patch(route.Path, handlers...)
	case fiber.MethodHead:
		s.app.Head(route.Path, handlers...)
	case fiber.MethodOptions:
		s.app.Options(route.Path, handlers...)
	default:
		s.app.Add(route.Method, route.Path, handlers...)
	}
}

// defaultHandleError is the app-level error handler: it is reached after
// any FlowTrace middleware wrapping the route has already observed the
// returned error, logs it tagged with the request ID set by RequestID if
// present, and converts it to a response.
func defaultHandleError(c *fiber.Ctx, err error) error {
	requestID := GetRequestID(c)
	if requestID == "" {
		log.Printf("HTTP handler error: %v", err)
	} else {
		log.Printf("[%s] HTTP handler error: %v", requestID, err)
	}

	var e *fiber.Error
	if errors.As(err, &e) {
		return c.Status(e.Code).JSON(fiber.Map{
			"error": e.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal Server Error",
	})
}

// GetShutdownTimeout returns a context with the default shutdown timeout.
// Useful for graceful shutdown handling.
func GetShutdownTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultShutdownTimeout)
}
