package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ParticipantLoginKey returns the cache key holding a participant's active token ID.
func (r *CacheKeyStruct) ParticipantLoginKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// TestDefinitionKey returns the cache key for a test definition including answer keys.
func (r *CacheKeyStruct) TestDefinitionKey(testID string) string {
	return fmt.Sprintf("test:%s:definition", testID)
}

// SessionSubmitGuardKey returns the key of the at-most-once submission guard.
func (r *CacheKeyStruct) SessionSubmitGuardKey(sessionID string) string {
	return fmt.Sprintf("session:%s:submit_guard", sessionID)
}

// SessionSubmitIntentKey returns the key of a session's durable submission intent.
func (r *CacheKeyStruct) SessionSubmitIntentKey(sessionID string) string {
	return fmt.Sprintf("session:%s:submit_intent", sessionID)
}

// PendingIntentsKey is the set of session IDs that hold a submission intent.
func (r *CacheKeyStruct) PendingIntentsKey() string {
	return "submit_intents:pending"
}

// SessionLeaveCountKey returns the key of a session's tab-leave counter.
func (r *CacheKeyStruct) SessionLeaveCountKey(sessionID string) string {
	return fmt.Sprintf("session:%s:leaves", sessionID)
}

// SessionDraftKey returns the hash key of a session's autosaved answers.
func (r *CacheKeyStruct) SessionDraftKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

// LoginRateKey returns the per-client counter of login attempts in one window.
func (r *CacheKeyStruct) LoginRateKey(clientIP string, window int64) string {
	return fmt.Sprintf("ratelimit:login:%s:%d", clientIP, window)
}

var CacheKey = NewCacheKeyStruct()
