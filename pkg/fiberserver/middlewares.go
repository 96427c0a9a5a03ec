package fiberserver

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"time"

	"github.com/flowtrace-go/flowtrace/pkg/vos"
	"github.com/gofiber/fiber/v2"
)

const (
	// HeaderRequestID is the header key for request ID.
	HeaderRequestID = "X-Request-ID"
	// LocalsRequestID is the key for storing request ID in Fiber locals.
	LocalsRequestID = "request-id"
)

// RequestID is a middleware that adds a unique request ID to each request.
// The request ID is stored in Fiber locals and can be retrieved using GetRequestID.
// FlowTrace pushes it into the flow's event context when it runs after this
// middleware in the chain.
//
// If UUID generation fails, a fallback ID based on timestamp and random bytes
// is generated to ensure every request has an ID.
func RequestID(c *fiber.Ctx) error {
	requestID := generateRequestID()

	c.Set(HeaderRequestID, requestID)
	c.Locals(LocalsRequestID, requestID)

	return c.Next()
}

// generateRequestID generates a unique request ID using UUID v7.
// Falls back to timestamp-based ID if UUID generation fails.
func generateRequestID() string {
	id, err := vos.NewUUID()
	if err == nil {
		return id.String()
	}
	log.Printf("Failed to generate UUID for request ID, using fallback: %v", err)
	return generateFallbackID()
}

// GetRequestID retrieves the request ID from Fiber context.
// Returns an empty string if no request ID is found.
func GetRequestID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	requestID, ok := c.Locals(LocalsRequestID).(string)
	if !ok {
		return ""
	}
	return requestID
}

// generateFallbackID generates a fallback ID when UUID generation fails.
// Format: 8-byte timestamp (16 hex chars) + 4 random bytes (8 hex chars)
// = 24 hex chars
func generateFallbackID() string {
	ts := time.Now().UnixNano()
	tsHex := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		tsHex[i] = byte(ts)
		ts >>= 8
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return hex.EncodeToString(tsHex) + "00000000"
	}

	return hex.EncodeToString(tsHex) + hex.EncodeToString(randomBytes)
}

// Recovery is a middleware that recovers from panics and returns a 500 error.
// It logs the panic for debugging.
func Recovery(c *fiber.Ctx) error {
	defer func() {
		if r := recover(); r != nil {
			logPanic(c, r)
			c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		}
	}()

	return c.Next()
}

// logPanic logs a panic with request ID if available.
func logPanic(c *fiber.Ctx, err any) {
	requestID := GetRequestID(c)
	if requestID == "" {
		log.Printf("PANIC recovered: %v", err)
		return
	}
	log.Printf("[%s] PANIC recovered: %v", requestID, err)
}

// SecurityHeaders is a middleware that adds common security headers.
func SecurityHeaders(c *fiber.Ctx) error {
	c.Set("X-Content-Type-Options", "nosniff")
	c.Set("X-Frame-Options", "DENY")
	c.Set("X-XSS-Protection", "1; mode=block")
	c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

	return c.Next()
}

// Logger is a middleware that logs request information.
func Logger(c *fiber.Ctx) error {
	start := time.Now()

	err := c.Next()

	duration := time.Since(start)
	requestID := GetRequestID(c)
	status := c.Response().StatusCode()
	method := c.Method()
	path := c.Path()

	if requestID != "" {
		log.Printf("[%s] %s %s - %d (%v)", requestID, method, path, status, duration)
	} else {
		log.Printf("%s %s - %d (%v)", method, path, status, duration)
	}

	return err
}

// HealthCheck returns a simple health check handler.
func HealthCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "healthy",
	})
}

// ReadinessCheck returns a simple readiness check handler.
func ReadinessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ready",
	})
}
