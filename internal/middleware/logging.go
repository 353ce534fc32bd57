// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			duration := time.Since(start)
			logger.WithFields(logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": duration,
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogSSEConnect logs a new event-stream subscriber. Called once the stream
// headers have been written.
func LogSSEConnect(logger *logrus.Logger, remoteAddr, username string) {
	logger.WithFields(logrus.Fields{
		"remote":   remoteAddr,
		"username": username,
	}).Info("SSE connected")
}

// LogSSEDisconnect logs an event-stream subscriber going away.
func LogSSEDisconnect(logger *logrus.Logger, remoteAddr, username string) {
	logger.WithFields(logrus.Fields{
		"remote":   remoteAddr,
		"username": username,
	}).Info("SSE disconnected")
}
