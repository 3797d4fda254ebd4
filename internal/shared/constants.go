package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout      = 180 * time.Second
	DefaultVisionTimeout    = 60 * time.Second
	DefaultReasoningTimeout = 10 * time.Minute
	DefaultShutdownTimeout  = 2 * time.Minute
	DialTimeout             = 5 * time.Second
)

// Cache Configuration
const (
	AnalysisCacheTTL     = 30 * time.Minute
	AnalysisCacheTimeout = 10 * time.Second
)

// API Configuration
const (
	DefaultQuestion     = "我的皮肤状况如何？"
	DefaultTemperature  = 0.2
	DefaultObjectPrefix = "uploads/"
	MaxUploadSize       = 20 << 20
	APIKeyLength        = 32
	RequestIDAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	RequestIDLength     = 28
)

// Rate limit Configuration
const (
	DefaultRateLimit       = 10
	DefaultRateLimitWindow = 1 * time.Minute
)
